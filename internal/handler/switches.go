package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"poscal/internal/service"
)

const switchPrefix = "feature."

type SwitchesHandler struct {
	Settings *service.SystemSettingsService
}

func (h *SwitchesHandler) Register(r gin.IRouter) {
	g := r.Group("/switches")
	g.GET("", h.list)
	g.GET("/:name", h.get)
	g.PUT("/:name", h.put)
}

type switchView struct {
	Name        string `json:"name"`
	Key         string `json:"key"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description,omitempty"`
}

func (h *SwitchesHandler) list(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	items, err := h.Settings.Switches(c.Request.Context())
	if err != nil {
		ErrorFrom(c, err)
		return
	}
	out := make([]switchView, 0, len(items))
	for _, it := range items {
		out = append(out, switchView{
			Name:        strings.TrimPrefix(it.Key, switchPrefix),
			Key:         it.Key,
			Enabled:     it.Enabled,
			Description: it.Description,
		})
	}
	Ok(c, out, map[string]any{"count": len(out)})
}

// switchKey resolves a path name to a known switch key.
func switchKey(c *gin.Context) (string, bool) {
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		return "", false
	}
	key := switchPrefix + strings.TrimPrefix(name, switchPrefix)
	_, ok := service.DefaultFeatureSwitches()[key]
	return key, ok
}

func (h *SwitchesHandler) get(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	key, ok := switchKey(c)
	if !ok {
		Error(c, http.StatusNotFound, "unknown switch", nil)
		return
	}
	items, err := h.Settings.Switches(c.Request.Context())
	if err != nil {
		ErrorFrom(c, err)
		return
	}
	for _, it := range items {
		if it.Key == key {
			Ok(c, switchView{
				Name:        strings.TrimPrefix(key, switchPrefix),
				Key:         key,
				Enabled:     it.Enabled,
				Description: it.Description,
			}, nil)
			return
		}
	}
	Error(c, http.StatusNotFound, "unknown switch", nil)
}

type putSwitchRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *SwitchesHandler) put(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	key, ok := switchKey(c)
	if !ok {
		Error(c, http.StatusNotFound, "unknown switch", nil)
		return
	}
	var req putSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if err := h.Settings.SetEnabled(c.Request.Context(), key, *req.Enabled); err != nil {
		ErrorFrom(c, err)
		return
	}
	Ok(c, switchView{
		Name:    strings.TrimPrefix(key, switchPrefix),
		Key:     key,
		Enabled: *req.Enabled,
	}, nil)
}
