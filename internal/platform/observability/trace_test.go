package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/checkout/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	require.True(t, ok)
	assert.Equal(t, "105445aa7843bc8bf206b12000100000", sc.TraceID().String())
	assert.Equal(t, "0000000000000001", sc.SpanID().String())
	assert.True(t, sc.IsSampled())
	assert.True(t, sc.IsRemote())

	for _, header := range []string{"", "nope", "zz/1;o=1", "105445aa7843bc8bf206b12000100000/abc", "105445aa7843bc8bf206b12000100000/0"} {
		_, ok := parseCloudTraceContext(header)
		assert.False(t, ok, header)
	}
}

func TestTraceMiddlewareContinuesCloudTrace(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("shop-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/orders", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "105445aa7843bc8bf206b12000100000", info.TraceID)
	assert.Equal(t, "shop-prod", info.ProjectID)
	assert.Equal(t, "projects/shop-prod/traces/105445aa7843bc8bf206b12000100000", loggingTraceResource(info))
	assert.Contains(t, rr.Header().Get(cloudTraceHeader), "105445aa7843bc8bf206b12000100000/")
}

func TestTraceMiddlewarePrefersTraceparent(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", info.TraceID)
	assert.Empty(t, loggingTraceResource(info))
}
