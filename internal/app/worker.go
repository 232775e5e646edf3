package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go-attendance/internal/attendance"
	"go-attendance/internal/config"
	"go-attendance/internal/messaging/kafka"
	"go-attendance/internal/messaging/kafka/producer"
	"go-attendance/internal/shared/audit"
	"go-attendance/internal/shared/connection"
	"go-attendance/internal/user"

	"go.uber.org/zap"
)

// RunWorker relays the outbox to kafka and runs the inactivity sweeper.
func RunWorker(cfg config.Config) error {
	logger := zap.L().Named("app.worker")

	gormDB, err := connection.ConnectGORMWithRetry(cfg.DB, cfg.DBMaxRetries)
	if err != nil {
		return err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	kafkaWriter, err := connection.ConnectKafkaWithRetry(cfg.KafkaBroker, cfg.DBMaxRetries)
	if err != nil {
		return err
	}
	defer kafkaWriter.Close()

	outboxRepo := kafka.NewOutboxRepository(sqlDB)
	attendanceService := attendance.NewService(
		sqlDB,
		attendance.NewRepository(gormDB),
		outboxRepo,
		user.NewDirectory(user.NewRepository(gormDB), nil, logger),
		attendance.WithLogger(logger),
		attendance.WithLocation(cfg.Timezone),
		attendance.WithAuditLogger(audit.NewStdoutLogger(logger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go producer.ProcessOutboxEvents(ctx, outboxRepo, kafkaWriter, logger, cfg.OutboxPollInterval)
	go attendance.RunSweeper(ctx, attendanceService, cfg.SweepInterval, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("worker shutting down")
	cancel()

	return nil
}
