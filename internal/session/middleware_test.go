package session

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	var seen *Session
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		if r.URL.Path == "/forms" {
			require.NoError(t, seen.Set(r.Context(), "draft", []byte("1")))
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/forms", nil))

	require.NotNil(t, seen)
	assert.True(t, seen.Started())
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, DefaultCookieName, cookie.Name)
	assert.Equal(t, seen.ID(), cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.False(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	firstID := seen.ID()

	t.Run("existing session is reused", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: firstID})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, firstID, seen.ID())
		assert.True(t, seen.Started())
		require.Len(t, rec.Result().Cookies(), 1)

		v, err := seen.Get(context.Background(), "draft")
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), v)
	})

	t.Run("stateless request creates nothing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notices", nil))
		assert.False(t, seen.Started())
		assert.Empty(t, rec.Result().Cookies())

		ok, err := store.Exists(context.Background(), seen.ID())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown session is replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "6f1c1a52-8a0d-4d8e-9d7f-0c1d1e2f3a4b"})
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.NotEqual(t, "6f1c1a52-8a0d-4d8e-9d7f-0c1d1e2f3a4b", seen.ID())
	})

	t.Run("malformed cookie is replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "../../etc"})
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.NotEqual(t, "../../etc", seen.ID())
	})

	t.Run("secure cookie over https", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/forms", nil)
		req.TLS = &tls.ConnectionState{}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Len(t, rec.Result().Cookies(), 1)
		assert.True(t, rec.Result().Cookies()[0].Secure)
	})
}

func TestSession_PendingUntilSet(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	starts := 0
	sess := newPending("7d2f0c4e-1b3a-4c5d-8e9f-a0b1c2d3e4f5", store, func() { starts++ })

	_, err := sess.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, sess.Remove(ctx, "k"))
	assert.Zero(t, starts)

	require.NoError(t, sess.Set(ctx, "k", []byte("v")))
	require.NoError(t, sess.Set(ctx, "k", []byte("w")))
	assert.Equal(t, 1, starts)
	assert.True(t, sess.Started())

	v, err := sess.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("w"), v)
}

type failingStore struct{ Store }

func (failingStore) Exists(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingStore) Touch(context.Context, string) error {
	return errors.New("connection refused")
}

func TestMiddleware_StoreFailure(t *testing.T) {
	t.Parallel()

	called := false
	handler := Middleware(failingStore{}, WithCookieName("sid"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/forms", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "6f1c1a52-8a0d-4d8e-9d7f-0c1d1e2f3a4b"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal Server Error","message":"The request could not be processed."}`, rec.Body.String())
}
