package attendance

import (
	"time"

	"go-attendance/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const resource = "attendance"

// heartbeats are expected every few minutes; the limiter only stops runaway clients
var (
	heartbeatRate  = rate.Every(10 * time.Second)
	heartbeatBurst = 3
)

func RegisterRoutes(
	r *gin.RouterGroup,
	h *Handler,
	auth gin.HandlerFunc,
	rbacService middleware.RBACService,
	rdb *redis.Client,
) {
	attendances := r.Group("/attendances")
	attendances.Use(auth)
	{
		attendances.GET("", middleware.RBACAuthorize(rbacService, resource, "read"), h.List)
		attendances.GET("/status", middleware.RBACAuthorize(rbacService, resource, "read"), h.Status)
		attendances.GET("/stats", middleware.RBACAuthorize(rbacService, resource, "stats"), h.Stats)
		attendances.GET("/presence", middleware.RBACAuthorize(rbacService, resource, "stats"), h.Presence)
		attendances.GET("/:id", middleware.RBACAuthorize(rbacService, resource, "read"), h.GetByID)

		attendances.POST("/mark",
			middleware.RBACAuthorize(rbacService, resource, "create"),
			middleware.Idempotency(rdb),
			h.Mark,
		)
		attendances.POST("/check-in", middleware.RBACAuthorize(rbacService, resource, "create"), h.CheckIn)
		attendances.POST("/check-out", middleware.RBACAuthorize(rbacService, resource, "create"), h.CheckOut)
		attendances.POST("/heartbeat",
			middleware.RBACAuthorize(rbacService, resource, "create"),
			middleware.RateLimitByUser(heartbeatRate, heartbeatBurst),
			h.Heartbeat,
		)
		attendances.POST("/:id/verify", middleware.RBACAuthorize(rbacService, resource, "verify"), h.Verify)
		attendances.POST("/sweep", middleware.RBACAuthorize(rbacService, resource, "sweep"), h.Sweep)
	}
}
