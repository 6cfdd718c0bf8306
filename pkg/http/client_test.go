package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)
	body, err := c.Get(context.Background(), "/ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGetGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)
	_, err := c.Get(context.Background(), "/ping", nil)
	require.Error(t, err)
	assert.Equal(t, int32(maxAttempts), atomic.LoadInt32(&calls))
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"msg":"bad key"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)
	_, err := c.Get(context.Background(), "/private", nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRetriesReuseConnection(t *testing.T) {
	var calls, newConns int32
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"retMsg":"busy"}`)
			return
		}
		io.WriteString(w, `{"ok":true}`)
	}))
	srv.Config.ConnState = func(c net.Conn, s http.ConnState) {
		if s == http.StateNew {
			atomic.AddInt32(&newConns, 1)
		}
	}
	srv.Start()
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, nil)
	_, err := c.Get(context.Background(), "/ping", nil)
	require.NoError(t, err)

	// Retried response bodies are drained and closed, so every attempt rides
	// the same keep-alive connection.
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&newConns))
}

type recordingSigner struct {
	payloads [][]byte
}

func (s *recordingSigner) SignRequest(req *http.Request, body []byte) error {
	s.payloads = append(s.payloads, body)
	req.Header.Set("X-Signed", "yes")
	return nil
}

func TestPostSignsExactWireBytes(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		assert.Equal(t, "yes", r.Header.Get("X-Signed"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	signer := &recordingSigner{}
	c := NewClient(srv.URL, 5*time.Second, signer)
	_, err := c.Post(context.Background(), "/order", map[string]string{"symbol": "BTCUSDT"})
	require.NoError(t, err)

	require.Len(t, signer.payloads, 1)
	assert.Equal(t, signer.payloads[0], received, "signed bytes must match wire bytes")
}

func TestEachRetryIsResigned(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	signer := &recordingSigner{}
	c := NewClient(srv.URL, 5*time.Second, signer)
	_, err := c.Post(context.Background(), "/order", map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.Len(t, signer.payloads, 2)
}
