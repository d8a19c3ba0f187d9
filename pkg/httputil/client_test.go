package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-trader/pkg/logger"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestClient() *Client {
	return New(logger.NewNop()).WithSleeper(noSleep)
}

func TestNew(t *testing.T) {
	client := New(logger.NewNop())

	assert.Equal(t, DefaultTimeout, client.httpClient.Timeout)
	assert.Equal(t, 3, client.retryConfig.MaxRetries)
	assert.True(t, client.retryConfig.Enabled)

	client.WithRetry(5, 2*time.Second)
	assert.Equal(t, 5, client.retryConfig.MaxRetries)
	assert.Equal(t, 2*time.Second, client.retryConfig.InitialDelay)

	client.DisableRetry()
	assert.False(t, client.retryConfig.Enabled)
}

func TestGetRetriesOn5xx(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	resp, err := newTestClient().Get(context.Background(), server.URL)
	require.NoError(t, err)

	var body struct{ Status string }
	require.NoError(t, DecodeJSON(resp, &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestPostIsNeverRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	resp, err := newTestClient().PostJSON(context.Background(), server.URL, map[string]string{"side": "bid"})
	require.NoError(t, err)

	err = DecodeJSON(resp, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Retryable())
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "order POSTs must not be resent")
}

func TestDecodeJSONClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"name":"insufficient_funds"}}`))
	}))
	defer server.Close()

	resp, err := newTestClient().Get(context.Background(), server.URL)
	require.NoError(t, err)

	err = DecodeJSON(resp, nil)
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "insufficient_funds")
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(500))
	assert.True(t, IsRetryableError(429))
	assert.False(t, IsRetryableError(404))
	assert.False(t, IsTransient(nil))
}
