package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"ping":true}`, string(body))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"pong":true}`))
	}))
	defer server.Close()

	c := New()
	resp, err := c.Do(context.Background(), &Request{
		URL:    server.URL,
		Header: http.Header{"Authorization": {"Bearer sk-test"}},
		Body:   []byte(`{"ping":true}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"pong":true}`, string(resp.Body))
}

func TestClient_Do_UpstreamErrorIsSingleAttempt(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer server.Close()

	_, err := New().Do(context.Background(), &Request{URL: server.URL + "/v1/chat?key=secret"})

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusServiceUnavailable, upstream.StatusCode)
	assert.Contains(t, string(upstream.Body), "overloaded")
	assert.NotContains(t, upstream.URL, "secret")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestClient_Do_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	_, err := New(WithTimeout(50*time.Millisecond)).Do(context.Background(), &Request{URL: server.URL})

	var te *Error
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Timeout)
	assert.Equal(t, "send", te.Op)
}

func TestClient_Do_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	_, err := New().Do(context.Background(), &Request{URL: addr})

	var te *Error
	require.True(t, errors.As(err, &te))
	assert.False(t, te.Timeout)
}

func TestClient_Do_BodyTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer server.Close()

	_, err := New(WithMaxBodyBytes(16)).Do(context.Background(), &Request{URL: server.URL})
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func streamingServer(t *testing.T, frames []string, hold bool, released chan<- struct{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, f := range frames {
			_, _ = fmt.Fprint(w, f)
			flusher.Flush()
		}
		if hold {
			<-r.Context().Done()
			if released != nil {
				close(released)
			}
		}
	}))
}

func TestClient_Open_ReadsUntilEOF(t *testing.T) {
	server := streamingServer(t, []string{"data: a\n\n", "data: b\n\n"}, false, nil)
	defer server.Close()

	frames, err := New().Open(context.Background(), &Request{URL: server.URL})
	require.NoError(t, err)
	defer frames.Close()

	var got []byte
	for {
		b, err := frames.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, b...)
	}
	assert.Equal(t, "data: a\n\ndata: b\n\n", string(got))

	// sticky
	_, err = frames.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestClient_Open_IdleTimeout(t *testing.T) {
	server := streamingServer(t, []string{"data: a\n\n"}, true, nil)
	defer server.Close()

	frames, err := New(WithIdleTimeout(50*time.Millisecond)).Open(context.Background(), &Request{URL: server.URL})
	require.NoError(t, err)
	defer frames.Close()

	_, err = frames.Next(context.Background())
	require.NoError(t, err)

	_, err = frames.Next(context.Background())
	var te *Error
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Timeout)
	assert.ErrorIs(t, err, ErrIdleTimeout)
}

func TestClient_Open_FirstByteTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	start := time.Now()
	_, err := New(WithTimeout(50*time.Millisecond)).Open(context.Background(), &Request{URL: server.URL})
	var te *Error
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Timeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_Open_CloseReleasesConnection(t *testing.T) {
	released := make(chan struct{})
	server := streamingServer(t, []string{"data: a\n\n"}, true, released)
	defer server.Close()

	frames, err := New().Open(context.Background(), &Request{URL: server.URL})
	require.NoError(t, err)

	_, err = frames.Next(context.Background())
	require.NoError(t, err)

	frames.Close()
	frames.Close()

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream connection was not released after Close")
	}
}

func TestClient_Open_CallerCancel(t *testing.T) {
	server := streamingServer(t, []string{"data: a\n\n"}, true, nil)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	frames, err := New().Open(ctx, &Request{URL: server.URL})
	require.NoError(t, err)
	defer frames.Close()

	_, err = frames.Next(ctx)
	require.NoError(t, err)

	cancel()
	_, err = frames.Next(context.Background())
	var te *Error
	require.True(t, errors.As(err, &te))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_Open_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer server.Close()

	_, err := New().Open(context.Background(), &Request{URL: server.URL})
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusTooManyRequests, upstream.StatusCode)
}
