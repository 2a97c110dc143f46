package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/franchise/internal/domain"
	"github.com/dukerupert/franchise/internal/idempotency"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body struct {
		Error map[string]string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestRequestID(t *testing.T) {
	var seen, seenDomain string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		seenDomain = domain.RequestIDFromContext(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, seenDomain)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "gateway-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "gateway-123", seen)
		assert.Equal(t, "gateway-123", rec.Header().Get(RequestIDHeader))
	})

	t.Run("malformed replaced", func(t *testing.T) {
		for _, bad := range []string{"id with spaces", "line\nbreak", strings.Repeat("a", 200)} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(RequestIDHeader, bad)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.NotEqual(t, bad, seen)
			assert.NotEmpty(t, seen)
		}
	})
}

func TestWithActor(t *testing.T) {
	var got *domain.Actor
	h := WithActor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetActor(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorIDHeader, " approver-1 ")
	req.Header.Set(ActorRolesHeader, "approver, fulfillment, wizard")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	assert.Equal(t, "approver-1", got.ID)
	assert.Equal(t, []domain.Role{domain.RoleApprover, domain.RoleFulfillment}, got.Roles)

	got = nil
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Nil(t, got)
}

func TestRequireActor(t *testing.T) {
	h := WithActor(RequireActor(http.HandlerFunc(okHandler)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, domain.EUNAUTHORIZED, decodeError(t, rec)["code"])

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set(ActorIDHeader, "franchisee-1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 0.001, BurstSize: 2})
	defer rl.Stop()
	h := WithActor(rl.Middleware(http.HandlerFunc(okHandler)))

	send := func(actor string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(ActorIDHeader, actor)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("a"))
	assert.Equal(t, http.StatusOK, send("a"))
	assert.Equal(t, http.StatusTooManyRequests, send("a"))
	assert.Equal(t, http.StatusOK, send("b"))
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:4321"
	assert.Equal(t, "10.0.0.9", GetClientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", GetClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", GetClientIP(req))
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("far too large")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, domain.ETOOLARGE, decodeError(t, rec)["code"])
}

func TestAPIHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	APIHeaders(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/orders", "/orders"},
		{"/orders/6f1c", "/orders/{id}"},
		{"/orders/6f1c/decision", "/orders/{id}/decision"},
		{"/locations/store-1/stock/P1", "/locations/{location}/stock/{product}"},
		{"/locations/store-1/stock/P1/adjustments", "/locations/{location}/stock/{product}/adjustments"},
		{"/health", "/health"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	mux := http.NewServeMux()
	mux.Handle("GET /orders/{id}", m.Middleware(http.HandlerFunc(okHandler)))

	for _, id := range []string{"a", "b", "c"} {
		mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/"+id, nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/orders/{id}", "200")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "test_http_requests_total")
}

func TestErrorCodeToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, errorCodeToHTTPStatus(domain.EINSUFFICIENTSTOCK))
	assert.Equal(t, http.StatusConflict, errorCodeToHTTPStatus(domain.EINVALIDTRANSITION))
	assert.Equal(t, http.StatusUnprocessableEntity, errorCodeToHTTPStatus(domain.EKEYREUSED))
	assert.Equal(t, http.StatusInternalServerError, errorCodeToHTTPStatus("unknown"))
}

// --- Idempotency ---

type idemFixture struct {
	store   *idempotency.MemoryStore
	calls   atomic.Int32
	status  int
	handler http.Handler
	release chan struct{}
}

func newIdemFixture(status int) *idemFixture {
	f := &idemFixture{store: idempotency.NewMemoryStore(time.Hour), status: status}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := f.calls.Add(1)
		if f.release != nil {
			<-f.release
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_ = json.NewEncoder(w).Encode(map[string]any{"call": n, "echo": string(body)})
	})
	f.handler = WithActor(Idempotency(f.store)(inner))
	return f
}

func (f *idemFixture) post(actor, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req.Header.Set(ActorIDHeader, actor)
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_ReplaysCompletedResponse(t *testing.T) {
	f := newIdemFixture(http.StatusCreated)

	first := f.post("franchisee-1", "k1", `{"a":1}`)
	second := f.post("franchisee-1", "k1", `{"a":1}`)

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(IdempotentReplayHeader))
	assert.Empty(t, first.Header().Get(IdempotentReplayHeader))
}

func TestIdempotency_KeyIsScopedToActor(t *testing.T) {
	f := newIdemFixture(http.StatusCreated)

	f.post("franchisee-1", "k1", `{}`)
	f.post("franchisee-2", "k1", `{}`)

	assert.Equal(t, int32(2), f.calls.Load())
}

func TestIdempotency_DifferentBodyIsRejected(t *testing.T) {
	f := newIdemFixture(http.StatusCreated)

	f.post("franchisee-1", "k1", `{"a":1}`)
	rec := f.post("franchisee-1", "k1", `{"a":2}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, domain.EKEYREUSED, decodeError(t, rec)["code"])
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestIdempotency_InFlightDuplicateConflicts(t *testing.T) {
	f := newIdemFixture(http.StatusCreated)
	f.release = make(chan struct{})

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- f.post("franchisee-1", "k1", `{}`) }()

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)

	rec := f.post("franchisee-1", "k1", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(f.release)
	assert.Equal(t, http.StatusCreated, (<-done).Code)
}

func TestIdempotency_ServerErrorFreesKey(t *testing.T) {
	f := newIdemFixture(http.StatusInternalServerError)

	f.post("franchisee-1", "k1", `{}`)
	f.status = http.StatusCreated
	rec := f.post("franchisee-1", "k1", `{}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestIdempotency_ClientErrorIsReplayed(t *testing.T) {
	f := newIdemFixture(http.StatusConflict)

	f.post("franchisee-1", "k1", `{}`)
	f.status = http.StatusCreated
	rec := f.post("franchisee-1", "k1", `{}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestIdempotency_NoKeyPassesThrough(t *testing.T) {
	f := newIdemFixture(http.StatusCreated)

	f.post("franchisee-1", "", `{}`)
	f.post("franchisee-1", "", `{}`)

	assert.Equal(t, int32(2), f.calls.Load())
}

func TestIdempotency_LongKeyRejected(t *testing.T) {
	f := newIdemFixture(http.StatusCreated)

	rec := f.post("franchisee-1", strings.Repeat("k", 256), `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.calls.Load())
}

func TestGetLogger_Fallback(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))
}
