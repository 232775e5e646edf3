package app

import (
	"context"
	"database/sql"

	"go-attendance/internal/attendance"
	"go-attendance/internal/config"
	"go-attendance/internal/identity"
	"go-attendance/internal/messaging/kafka"
	"go-attendance/internal/middleware"
	"go-attendance/internal/rbac"
	"go-attendance/internal/rbac/infra"
	"go-attendance/internal/shared/audit"
	"go-attendance/internal/user"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type modules struct {
	cfg    config.Config
	db     *sql.DB
	gormDB *gorm.DB
	rdb    *redis.Client
	audit  audit.Logger
	logger *zap.Logger
}

func registerModules(router *gin.Engine, m modules) error {
	// --- Repositories ---
	rbacRepo := rbac.NewRepository(m.gormDB)
	attendanceRepo := attendance.NewRepository(m.gormDB)
	userRepo := user.NewRepository(m.gormDB)
	teamRepo := identity.NewTeamRepository(m.gormDB)
	outboxRepo := kafka.NewOutboxRepository(m.db)

	// --- RBAC Core ---
	enforcer, err := infra.NewEnforcer(m.cfg.RBACModelPath)
	if err != nil {
		return err
	}
	rbacService := rbac.NewService(rbacRepo, enforcer, m.logger)
	if err := rbacService.LoadPolicy(context.Background()); err != nil {
		return err
	}

	// --- Services ---
	resolver := identity.NewResolver(teamRepo)
	directory := user.NewDirectory(userRepo, m.rdb, m.logger)
	attendanceService := attendance.NewService(m.db, attendanceRepo, outboxRepo, directory,
		attendance.WithLogger(m.logger),
		attendance.WithLocation(m.cfg.Timezone),
		attendance.WithAuditLogger(m.audit),
		attendance.WithPresenceBoard(attendance.NewPresenceBoard(m.rdb, m.logger)),
	)

	// --- Handlers ---
	attendanceHandler := attendance.NewHandler(attendanceService, m.rdb)
	rbacHandler := rbac.NewHandler(rbacService, m.logger)

	// --- Routes Registration ---
	auth := middleware.AuthMiddleware(m.cfg.JWTSecret, resolver)
	api := router.Group("/api/v1")
	{
		attendance.RegisterRoutes(api, attendanceHandler, auth, rbacService, m.rdb)
		rbac.RegisterRoutes(api, rbacHandler, auth)
	}

	return nil
}
