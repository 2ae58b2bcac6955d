package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"poscal/internal/pairs"
	"poscal/internal/repository"
	"poscal/internal/service"
)

type SignalsHandler struct {
	Repo       repository.Repository
	Settlement *service.SettlementService
}

func (h *SignalsHandler) Register(r gin.IRouter) {
	g := r.Group("/signals")
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("/:id/cancel", h.cancel)

	r.GET("/journal", h.journal)
}

func (h *SignalsHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	params := repository.ListSignalsParams{
		Limit:   limit,
		Offset:  offset,
		Status:  strQueryPtr(c, "status"),
		OrderBy: "created_at",
		Asc:     boolPtr(false),
	}
	if pair := strQueryPtr(c, "pair"); pair != nil {
		norm, _ := pairs.Normalize(*pair)
		params.Pair = &norm
	}
	items, err := h.Repo.ListSignals(c.Request.Context(), params)
	if err != nil {
		ErrorFrom(c, err)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset, "count": len(items)})
}

func (h *SignalsHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	item, err := h.Repo.GetSignal(c.Request.Context(), id)
	if err != nil {
		ErrorFrom(c, err)
		return
	}
	Ok(c, item, nil)
}

func (h *SignalsHandler) cancel(c *gin.Context) {
	if h.Settlement == nil {
		Error(c, http.StatusInternalServerError, "settlement unavailable", nil)
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		Error(c, http.StatusBadRequest, "invalid signal id", nil)
		return
	}
	report, err := h.Settlement.CancelSignal(c.Request.Context(), id)
	if err != nil {
		ErrorFrom(c, err)
		return
	}
	Ok(c, gin.H{
		"signal_id": report.SignalID,
		"status":    "cancelled",
		"cancelled": report.Cancelled,
		"skipped":   report.Skipped,
	}, nil)
}

func (h *SignalsHandler) journal(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListJournalEntries(c.Request.Context(), repository.ListJournalParams{
		Limit:    limit,
		Offset:   offset,
		SignalID: strQueryPtr(c, "signal_id"),
		UserID:   strQueryPtr(c, "user_id"),
		Result:   strQueryPtr(c, "result"),
		OrderBy:  "trade_date",
		Asc:      boolPtr(false),
	})
	if err != nil {
		ErrorFrom(c, err)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset, "count": len(items)})
}
