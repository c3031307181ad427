package notification

import (
	"log/slog"
	"net/http"

	"notifgate/internal/common"

	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests for the notification domain.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new notification handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  common.LoggerOrDiscard(logger).With("component", "notification_handler"),
	}
}

// CreateType handles POST /api/v1/notification-types
func (h *Handler) CreateType(c *gin.Context) {
	var req TypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	t, err := h.service.CreateType(c.Request.Context(), &req)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusCreated, t)
}

// EditType handles PUT /api/v1/notification-types/:name
func (h *Handler) EditType(c *gin.Context) {
	var req PolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	t, err := h.service.EditType(c.Request.Context(), c.Param("name"), &req)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, t)
}

// GetType handles GET /api/v1/notification-types/:name
func (h *Handler) GetType(c *gin.Context) {
	t, err := h.service.GetType(c.Request.Context(), c.Param("name"))
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, t)
}

// ListTypes handles GET /api/v1/notification-types
func (h *Handler) ListTypes(c *gin.Context) {
	types, err := h.service.ListTypes(c.Request.Context())
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, gin.H{"types": types})
}

// DeleteType handles DELETE /api/v1/notification-types/:name
func (h *Handler) DeleteType(c *gin.Context) {
	name := c.Param("name")
	if err := h.service.DeleteType(c.Request.Context(), name); err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, gin.H{"name": name, "status": "deleted"})
}

// Send handles POST /api/v1/send
// Returns 201 with the appended record, or 200 with sent=false for a
// permissive-mode denial.
func (h *Handler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.service.Send(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("send notification failed",
			"error", err,
			"type", req.Type,
			"client_id", req.ClientID,
		)
		common.HandleError(c, err)
		return
	}

	if !result.Sent {
		common.Success(c, http.StatusOK, result)
		return
	}
	common.Success(c, http.StatusCreated, result)
}

// GetNotification handles GET /api/v1/notifications/:id
func (h *Handler) GetNotification(c *gin.Context) {
	record, err := h.service.GetRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, record)
}

// GetDelivery handles GET /api/v1/notifications/:id/delivery
func (h *Handler) GetDelivery(c *gin.Context) {
	d, err := h.service.GetDelivery(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, d)
}

// ListNotifications handles GET /api/v1/notifications
func (h *Handler) ListNotifications(c *gin.Context) {
	var filter ListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid query parameters: "+err.Error())
		return
	}

	resp, err := h.service.ListRecords(c.Request.Context(), filter)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, resp)
}

// ResendWebhook handles POST /api/v1/webhooks/resend
// Receives delivery status updates from Resend webhooks.
func (h *Handler) ResendWebhook(c *gin.Context) {
	var event struct {
		Type string `json:"type"`
		Data struct {
			EmailID string `json:"email_id"`
		} `json:"data"`
	}

	if err := c.ShouldBindJSON(&event); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid webhook payload: "+err.Error())
		return
	}

	var status DeliveryStatus
	switch event.Type {
	case "email.delivered":
		status = StatusDelivered
	case "email.bounced":
		status = StatusBounced
	case "email.opened":
		status = StatusOpened
	default:
		h.logger.Info("ignoring webhook event", "type", event.Type)
		common.Success(c, http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err := h.service.HandleWebhookEvent(c.Request.Context(), event.Data.EmailID, status); err != nil {
		h.logger.Error("webhook processing failed",
			"event_type", event.Type,
			"email_id", event.Data.EmailID,
			"error", err,
		)
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, gin.H{"status": "processed"})
}

// RegisterRoutes registers notification routes to the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/notification-types", h.CreateType)
	rg.GET("/notification-types", h.ListTypes)
	rg.GET("/notification-types/:name", h.GetType)
	rg.PUT("/notification-types/:name", h.EditType)
	rg.DELETE("/notification-types/:name", h.DeleteType)

	rg.POST("/send", h.Send)
	rg.GET("/notifications", h.ListNotifications)
	rg.GET("/notifications/:id", h.GetNotification)
	rg.GET("/notifications/:id/delivery", h.GetDelivery)
	rg.POST("/webhooks/resend", h.ResendWebhook)
}
