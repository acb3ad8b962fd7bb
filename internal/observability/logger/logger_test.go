package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/needflow/internal/observability/context"
	"github.com/smallbiznis/needflow/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "SELECT", operationFromSQL("  select * from needs"))
	assert.Equal(t, "UPDATE", operationFromSQL("WITH x AS (SELECT 1) UPDATE needs SET status = 'approved'"))
	assert.Equal(t, "INSERT", operationFromSQL("(INSERT INTO need_matches VALUES (1))"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithActor(ctx, "supervisor", "42")
	ctx = correlation.ContextWithCorrelationID(ctx, "cid-1")

	WithContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "cid-1", fields["correlation_id"])
	assert.Equal(t, "supervisor", fields["worker_role"])
	assert.Equal(t, "42", fields["worker_id"])
}

func TestWithContextOmitsAbsentFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	WithContext(context.Background(), base).Info("bare")
	WithContext(obscontext.WithRequestID(context.Background(), "req-2"), base).Info("partial")

	require.Equal(t, 2, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
	fields := logs.All()[1].ContextMap()
	assert.Equal(t, "req-2", fields["request_id"])
	assert.NotContains(t, fields, "worker_id")
	assert.NotContains(t, fields, "trace_id")
}

func TestSamplingDefaults(t *testing.T) {
	got := SamplingConfig{Initial: 5}.withDefaults()
	assert.Equal(t, 5, got.Initial)
	assert.Equal(t, 100, got.Thereafter)
	assert.Equal(t, time.Second, got.Window)
}

func TestGinMiddlewareSetsRequestAndCorrelationHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))

	var seenRequestID, seenCorrelationID string
	r.GET("/ping", func(c *gin.Context) {
		seenRequestID = obscontext.RequestIDFromContext(c.Request.Context())
		seenCorrelationID = correlation.ExtractCorrelationID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "abc")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "abc", seenRequestID)
	assert.NotEmpty(t, seenCorrelationID)
	assert.Equal(t, seenCorrelationID, rec.Header().Get(correlation.HeaderName))
}

func TestRouteEntity(t *testing.T) {
	key, id := routeEntity("/api/batches/:id/approve", "77")
	assert.Equal(t, "batch_id", key)
	assert.Equal(t, "77", id)

	key, _ = routeEntity("/api/needs/:id", "5")
	assert.Equal(t, "need_id", key)

	key, _ = routeEntity("/api/things/:id", "5")
	assert.Equal(t, "resource_id", key)

	key, _ = routeEntity("/api/needs", "")
	assert.Empty(t, key)
}

func TestAccessLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, accessLevel("/health", http.StatusOK, ""))
	assert.Equal(t, zapcore.InfoLevel, accessLevel("/api/needs", http.StatusOK, ""))
	assert.Equal(t, zapcore.InfoLevel, accessLevel("/api/needs", http.StatusBadRequest, "validation_error"))
	assert.Equal(t, zapcore.WarnLevel, accessLevel("/api/needs/:id", http.StatusConflict, "illegal_transition"))
	assert.Equal(t, zapcore.ErrorLevel, accessLevel("/api/batches", http.StatusInternalServerError, "internal_error"))
}

func TestParseStatement(t *testing.T) {
	stmt := parseStatement(`SELECT * FROM "needs" WHERE id IN (?,?) ORDER BY id FOR UPDATE`)
	assert.Equal(t, statement{operation: "SELECT", table: "needs", locking: true}, stmt)

	stmt = parseStatement("UPDATE distribution_batches SET status = ? WHERE id = ? AND version = ?")
	assert.Equal(t, statement{operation: "UPDATE", table: "distribution_batches"}, stmt)

	stmt = parseStatement("(INSERT INTO need_matches VALUES (1))")
	assert.Equal(t, "need_matches", stmt.table)
	assert.False(t, stmt.locking)
}
