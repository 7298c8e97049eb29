package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientDo_HeadersAndDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "item-1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"value":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(models.ServiceDirectus, Options{BaseURL: srv.URL + "/", Token: "tok"})
	var out struct {
		Value string `json:"value"`
	}
	require.NoError(t, c.Do(context.Background(), http.MethodPost, "/x", "item-1", map[string]int{"a": 1}, &out))
	assert.Equal(t, "ok", out.Value)
}

func TestClientDo_Classification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
		{http.StatusUnprocessableEntity, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			c := NewClient(models.ServiceEAS, Options{BaseURL: srv.URL})
			err := c.Get(context.Background(), "/")
			require.Error(t, err)
			assert.Equal(t, tt.retryable, models.IsRetryable(err))

			if !tt.retryable {
				var verr *models.ValidationError
				require.True(t, errors.As(err, &verr))
				assert.Equal(t, tt.status, verr.StatusCode)
				assert.Equal(t, "nope", verr.Message)
			}
		})
	}
}

func TestClientDo_TransportAndTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClient(models.ServiceDirectus, Options{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	err := c.Get(context.Background(), "/")
	var terr *models.TransientError
	require.True(t, errors.As(err, &terr))

	closed := NewClient(models.ServiceDirectus, Options{BaseURL: "http://127.0.0.1:1"})
	err = closed.Get(context.Background(), "/")
	assert.True(t, models.IsRetryable(err))
}

func TestClientDo_MalformedSuccessIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	c := NewClient(models.ServiceEAS, Options{BaseURL: srv.URL})
	var out map[string]string
	err := c.Do(context.Background(), http.MethodGet, "/", "", nil, &out)
	assert.True(t, models.IsRetryable(err))
}

func TestClientDo_RateLimitHonoursContext(t *testing.T) {
	c := NewClient(models.ServiceEAS, Options{BaseURL: "http://unused", RPS: 0.001, Burst: 1})
	c.limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.Get(ctx, "/")
	var terr *models.TransientError
	assert.True(t, errors.As(err, &terr))
}
