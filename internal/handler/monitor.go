package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"poscal/internal/service"
)

// MonitorHandler exposes manual runs of the scheduled jobs.
type MonitorHandler struct {
	Monitor    *service.SignalMonitorService
	Settlement *service.SettlementService
}

func (h *MonitorHandler) Register(r gin.IRouter) {
	g := r.Group("/monitor")
	g.POST("/run", h.run)
	g.POST("/backlog", h.backlog)
}

func (h *MonitorHandler) run(c *gin.Context) {
	if h.Monitor == nil {
		Error(c, http.StatusInternalServerError, "monitor unavailable", nil)
		return
	}
	report, err := h.Monitor.RunOnce(c.Request.Context())
	if err != nil {
		ErrorFrom(c, err)
		return
	}
	Ok(c, report, nil)
}

func (h *MonitorHandler) backlog(c *gin.Context) {
	if h.Settlement == nil {
		Error(c, http.StatusInternalServerError, "settlement unavailable", nil)
		return
	}
	n, err := h.Settlement.SettleBacklog(c.Request.Context())
	if err != nil {
		ErrorFrom(c, err)
		return
	}
	Ok(c, gin.H{"settled": n}, nil)
}
