package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"poscal/internal/pairs"
	"poscal/internal/repository"
	"poscal/internal/service"
)

type PricesHandler struct {
	Repo   repository.Repository
	Ingest *service.PriceIngestService
}

func (h *PricesHandler) Register(r gin.IRouter) {
	g := r.Group("/prices")
	g.GET("", h.list)
	g.POST("/batch-update", h.batchUpdate)
}

type batchUpdateRequest struct {
	Prices []service.PriceUpdate `json:"prices"`
}

func (h *PricesHandler) batchUpdate(c *gin.Context) {
	if h.Ingest == nil {
		Error(c, http.StatusInternalServerError, "price ingest unavailable", nil)
		return
	}
	var req batchUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if len(req.Prices) == 0 {
		Error(c, http.StatusBadRequest, "prices must not be empty", nil)
		return
	}
	n, err := h.Ingest.Ingest(c.Request.Context(), req.Prices)
	if err != nil {
		ErrorFrom(c, err)
		return
	}
	Ok(c, gin.H{"updated": n}, nil)
}

// list returns cached quotes, optionally restricted by ?symbols=EUR/USD,GBP/USD.
func (h *PricesHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var symbols []string
	for _, raw := range strings.Split(c.Query("symbols"), ",") {
		if sym, _ := pairs.Normalize(raw); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	items, err := h.Repo.ListPrices(c.Request.Context(), symbols)
	if err != nil {
		ErrorFrom(c, err)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}
