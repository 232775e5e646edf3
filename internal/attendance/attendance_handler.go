package attendance

import (
	"encoding/json"
	"net/http"
	"time"

	attendanceerrors "go-attendance/internal/attendance/errors"
	"go-attendance/internal/identity"
	"go-attendance/internal/shared/apperror"
	"go-attendance/internal/shared/response"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const idempotencyTTL = 24 * time.Hour

type Handler struct {
	service Service
	rdb     *redis.Client
}

func NewHandler(service Service, rdb *redis.Client) *Handler {
	return &Handler{service: service, rdb: rdb}
}

func writeServiceError(c *gin.Context, err error) {
	httpErr := apperror.ToHTTP(err)
	response.Error(c, httpErr.Status, httpErr.Code, httpErr.Message, httpErr.Details)
}

func writeBindError(c *gin.Context, err error) {
	writeServiceError(c, apperror.MapValidationError(err))
}

// caller reads the identity the auth middleware put on the request context.
func caller(c *gin.Context) (identity.Identity, bool) {
	id, ok := identity.FromContext(c.Request.Context())
	if !ok {
		writeServiceError(c, attendanceerrors.ErrUnauthenticated)
	}
	return id, ok
}

func (h *Handler) Mark(c *gin.Context) {
	lockKey := c.GetString("idempotency_lock_key")
	cacheKey := c.GetString("idempotency_cache_key")
	if h.rdb != nil && lockKey != "" {
		defer h.rdb.Del(c.Request.Context(), lockKey)
	}

	who, ok := caller(c)
	if !ok {
		return
	}

	var req MarkAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	resp, err := h.service.MarkAttendance(c.Request.Context(), who, req)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	if h.rdb != nil && cacheKey != "" {
		if payload, marshalErr := json.Marshal(resp); marshalErr == nil {
			_ = h.rdb.Set(c.Request.Context(), cacheKey, payload, idempotencyTTL).Err()
		}
	}

	response.Success(c, http.StatusCreated, resp, nil)
}

func (h *Handler) CheckIn(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}

	var req CheckInRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
	}

	resp, err := h.service.CheckIn(c.Request.Context(), who, req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, resp, nil)
}

func (h *Handler) CheckOut(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}

	var req CheckOutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
	}

	resp, err := h.service.CheckOut(c.Request.Context(), who, req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp, nil)
}

func (h *Handler) Heartbeat(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}

	resp, err := h.service.Heartbeat(c.Request.Context(), who)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp, nil)
}

func (h *Handler) Status(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}

	resp, err := h.service.GetStatus(c.Request.Context(), who, c.Query("date"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp, nil)
}

func (h *Handler) List(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}

	var q ListRecordsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeBindError(c, err)
		return
	}

	rows, err := h.service.List(c.Request.Context(), who, q)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	page, pageSize := response.PageParams(c)
	items, meta := response.Paginate(rows, page, pageSize)
	response.Success(c, http.StatusOK, items, &meta)
}

func (h *Handler) GetByID(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}

	resp, err := h.service.GetByID(c.Request.Context(), who, c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp, nil)
}

func (h *Handler) Verify(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}

	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	resp, err := h.service.Verify(c.Request.Context(), who, c.Param("id"), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp, nil)
}

func (h *Handler) Stats(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}

	var q StatsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeServiceError(c, attendanceerrors.ErrInvalidStatsWindow)
		return
	}

	resp, err := h.service.GetStats(c.Request.Context(), who, q)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp, nil)
}

func (h *Handler) Presence(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}

	entries, err := h.service.Presence(c.Request.Context(), who, c.Query("date"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, entries, nil)
}

func (h *Handler) Sweep(c *gin.Context) {
	resp, err := h.service.SweepAutoCheckouts(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp, nil)
}
