package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/lectern/pkg/contextkeys"
)

func TestRequestMiddleware_AssignsRequestID(t *testing.T) {
	var seen string
	handler := RequestMiddleware(NewNopLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextkeys.GetRequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}

func TestRequestMiddleware_PropagatesIncomingID(t *testing.T) {
	handler := RequestMiddleware(NewNopLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
}

func TestRequestMiddleware_RecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	handler := RequestMiddleware(NewLogger(InfoLevel, &buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
	assert.Contains(t, buf.String(), "PANIC recovered")
}

func TestRecoverPanicWithCallback(t *testing.T) {
	called := false
	func() {
		defer RecoverPanicWithCallback(NewNopLogger(), "test", func() { called = true })
		panic("x")
	}()
	assert.True(t, called)
	assert.Error(t, MustRecover("x"))
	assert.NoError(t, MustRecover(nil))
}
