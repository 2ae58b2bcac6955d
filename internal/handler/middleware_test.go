package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWriteAuditLogsOnlyAPIWrites(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	engine := gin.New()
	engine.Use(RequestID(), WriteAudit(zap.New(core)))
	engine.GET("/api/v1/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.POST("/api/v1/x", func(c *gin.Context) { c.Status(http.StatusConflict) })
	engine.POST("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/v1/x", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/x", nil),
		httptest.NewRequest(http.MethodPost, "/healthz", nil),
	} {
		engine.ServeHTTP(httptest.NewRecorder(), req)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries=%d want=1", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("level=%s want=warn", entries[0].Level)
	}
	fields := entries[0].ContextMap()
	if got := fields["status"]; got != int64(http.StatusConflict) {
		t.Fatalf("status field=%v", got)
	}
	if id, _ := fields["request_id"].(string); len(id) != 36 {
		t.Fatalf("request_id=%v", fields["request_id"])
	}
}

func TestServiceTokenDisabledWhenEmpty(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RequireServiceToken(""))
	engine.GET("/api/v1/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/x", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d", rec.Code)
	}
}

func TestRequestIDKeepsInboundHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RequestID())
	engine.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "trace-1")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "trace-1" {
		t.Fatalf("request id=%q", got)
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if got := rec.Header().Get("X-Request-ID"); len(got) != 36 {
		t.Fatalf("generated request id=%q", got)
	}
}
