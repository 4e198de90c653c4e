package handler

import (
	"errors"
	"net/http"

	"portico/internal/application"
	"portico/internal/domain"

	"github.com/gin-gonic/gin"
)

const HeaderServiceToken = "X-Service-Token"

type RegistryHandler struct {
	registry *application.Registry
	// jwtAuthenticated is set when the route group already validated a
	// service JWT; the static token check is skipped then.
	jwtAuthenticated bool
}

func NewRegistryHandler(registry *application.Registry, jwtAuthenticated bool) *RegistryHandler {
	return &RegistryHandler{registry: registry, jwtAuthenticated: jwtAuthenticated}
}

func (h *RegistryHandler) authorized(c *gin.Context) bool {
	if h.jwtAuthenticated {
		return true
	}
	if !h.registry.ValidateToken(c.GetHeader(HeaderServiceToken)) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "invalid_token",
		})
		return false
	}
	return true
}

func (h *RegistryHandler) Register(c *gin.Context) {
	if !h.authorized(c) {
		return
	}

	var req domain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	resp, err := h.registry.Register(&req)
	if err != nil {
		code := "registration_failed"
		if errors.Is(err, domain.ErrInvalidRequest) {
			code = "invalid_request"
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   code,
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *RegistryHandler) Heartbeat(c *gin.Context) {
	if !h.authorized(c) {
		return
	}

	var req domain.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if err := h.registry.Heartbeat(req.InstanceID); err != nil {
		if errors.Is(err, domain.ErrInstanceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "instance_not_found",
				"message": "the specified instance does not exist",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "heartbeat_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, domain.HeartbeatResponse{Status: "ok"})
}

func (h *RegistryHandler) Deregister(c *gin.Context) {
	if !h.authorized(c) {
		return
	}

	var req domain.DeregisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if err := h.registry.Deregister(req.InstanceID); err != nil {
		if errors.Is(err, domain.ErrInstanceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "instance_not_found",
				"message": "the specified instance does not exist",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "deregister_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deregistered"})
}
