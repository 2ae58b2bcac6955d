package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"poscal/internal/repository"
	"poscal/internal/service"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// ErrorFrom maps engine sentinel errors onto HTTP statuses.
func ErrorFrom(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, service.ErrUnknownSwitch):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrSignalNotActive), errors.Is(err, service.ErrTickInProgress):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidPrice):
		status = http.StatusBadRequest
	}
	Error(c, status, err.Error(), nil)
}

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func strQueryPtr(c *gin.Context, key string) *string {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		return &val
	}
	return nil
}

func boolPtr(v bool) *bool { return &v }
