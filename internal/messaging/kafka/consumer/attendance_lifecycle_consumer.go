package consumer

import (
	"context"
	"encoding/json"

	"go-attendance/internal/events"
	"go-attendance/internal/shared/contextutil"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageReader is satisfied by *kafkago.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// Projector folds a lifecycle event into a read model.
type Projector interface {
	Apply(ctx context.Context, event events.AttendanceEvent) error
}

func ConsumeAttendanceLifecycle(
	ctx context.Context,
	reader MessageReader,
	projector Projector,
	logger *zap.Logger,
) {
	if logger == nil {
		logger = zap.L()
	}
	log := logger.Named("kafka.consumer.attendance_lifecycle")
	log.Info("attendance lifecycle consumer started")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("attendance lifecycle consumer stopped")
				return
			}
			log.Error("fetch attendance lifecycle message failed", zap.Error(err))
			continue
		}

		var event events.AttendanceEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Error("decode attendance event failed",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		requestID := event.RequestID
		if requestID == "" {
			requestID = headerValue(msg, "request_id")
		}
		msgLog := log.With(
			zap.String("request_id", requestID),
			zap.String("event_type", event.EventType),
			zap.String("record_id", event.RecordID),
			zap.String("user_id", event.UserID),
		)
		msgCtx := contextutil.WithLogger(contextutil.WithRequestID(ctx, requestID), msgLog)

		if err := projector.Apply(msgCtx, event); err != nil {
			msgLog.Error("apply attendance event failed", zap.Error(err))
			continue
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			msgLog.Error("commit attendance lifecycle message failed", zap.Error(err))
			continue
		}

		msgLog.Debug("attendance event applied", zap.Bool("is_online", event.IsOnline))
	}
}

func headerValue(msg kafkago.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
