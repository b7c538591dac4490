package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"inapp-token-ledger/internal/infra/api/apiv1"
	"inapp-token-ledger/internal/infra/logging"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func nopLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

func TestRouterHealth(t *testing.T) {
	v1 := apiv1.NewServer(nil, nil, nil, nil, nil, nil, nil)

	t.Run("200 when the database answers", func(t *testing.T) {
		h := NewRouter(v1, pingFunc(func(context.Context) error { return nil }), time.Second, nopLogger())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("503 when it does not", func(t *testing.T) {
		h := NewRouter(v1, pingFunc(func(context.Context) error { return errors.New("down") }), time.Second, nopLogger())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("metrics are exposed", func(t *testing.T) {
		h := NewRouter(v1, nil, time.Second, nopLogger())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("Recover turns a panic into a 500", func(t *testing.T) {
		h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }), Recover(nopLogger()))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	})

	t.Run("TraceID and Timeout decorate the request context", func(t *testing.T) {
		var (
			traceID     string
			hasDeadline bool
		)
		h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID = logging.TraceIDFrom(r.Context())
			_, hasDeadline = r.Context().Deadline()
		}), TraceID(), Timeout(time.Second))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, traceID)
		assert.Equal(t, traceID, rec.Header().Get(RequestIDHeader))
		assert.True(t, hasDeadline)
	})

	t.Run("TraceID keeps a caller supplied request id", func(t *testing.T) {
		var traceID string
		h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID = logging.TraceIDFrom(r.Context())
		}), TraceID())
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "abc-123", traceID)
		assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
	})

	t.Run("RequestLog passes the status through", func(t *testing.T) {
		h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}), RequestLog(nopLogger()))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	})
}
