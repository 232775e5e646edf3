package app

import (
	"net/http"

	"go-attendance/internal/config"
	"go-attendance/internal/middleware"
	"go-attendance/internal/shared/audit"
	"go-attendance/internal/shared/connection"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// per client IP, applied to the whole API
var (
	apiRate  = rate.Limit(20)
	apiBurst = 40
)

// BuildApp connects the infrastructure and registers every module on router.
func BuildApp(router *gin.Engine, cfg config.Config, auditLogger audit.Logger) error {
	logger := zap.L().Named("app.api")

	gormDB, err := connection.ConnectGORMWithRetry(cfg.DB, cfg.DBMaxRetries)
	if err != nil {
		return err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return err
	}

	rdb, err := connection.ConnectRedisWithRetry(cfg.RedisAddr, cfg.DBMaxRetries)
	if err != nil {
		return err
	}

	router.Use(
		gin.Recovery(),
		middleware.ContextLogger(logger),
		middleware.RateLimitByIP(apiRate, apiBurst),
	)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	return registerModules(router, modules{
		cfg:    cfg,
		db:     sqlDB,
		gormDB: gormDB,
		rdb:    rdb,
		audit:  auditLogger,
		logger: logger,
	})
}
