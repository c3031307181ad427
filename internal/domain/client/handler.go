package client

import (
	"net/http"

	"notifgate/internal/common"

	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests for the client directory.
type Handler struct {
	service *Service
}

// NewHandler creates a new client handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Create handles POST /api/v1/clients
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	created, err := h.service.Create(c.Request.Context(), req.Email)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusCreated, created)
}

// Get handles GET /api/v1/clients/:id
func (h *Handler) Get(c *gin.Context) {
	found, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, found)
}

// List handles GET /api/v1/clients
func (h *Handler) List(c *gin.Context) {
	clients, err := h.service.List(c.Request.Context())
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, gin.H{"clients": clients})
}

// Delete handles DELETE /api/v1/clients/:id
func (h *Handler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, gin.H{"id": id, "status": "deleted"})
}

// RegisterRoutes registers client routes to the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/clients", h.Create)
	rg.GET("/clients", h.List)
	rg.GET("/clients/:id", h.Get)
	rg.DELETE("/clients/:id", h.Delete)
}
