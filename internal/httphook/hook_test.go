package httphook

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"eventcorr/internal/observer"
	"eventcorr/pkg/traffic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu  sync.Mutex
	txs []*traffic.InterceptedRequest
}

func (c *collector) fn(tx *traffic.InterceptedRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs = append(c.txs, tx)
}

func (c *collector) all() []*traffic.InterceptedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*traffic.InterceptedRequest(nil), c.txs...)
}

func newServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Echo", string(body))
		_, _ = io.WriteString(w, `{"data":{"reviewId":"r-77"}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHookObservesTransactionUnchanged(t *testing.T) {
	srv := newServer(t)
	client := &http.Client{}
	c := &collector{}
	h := New(client, 0, nil)
	require.NoError(t, h.Install(c.fn))

	resp, err := client.Post(srv.URL+"/api/review?x=1", "application/json", strings.NewReader(`{"stars":5}`))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, `{"data":{"reviewId":"r-77"}}`, string(body))
	assert.Equal(t, `{"stars":5}`, resp.Header.Get("X-Echo"))

	txs := c.all()
	require.Len(t, txs, 1)
	tx := txs[0]
	assert.Equal(t, http.MethodPost, tx.Method)
	assert.Equal(t, srv.URL+"/api/review?x=1", tx.URL)
	assert.Equal(t, `{"stars":5}`, string(tx.RequestBody))
	assert.Equal(t, string(body), string(tx.ResponseBody))
	assert.Equal(t, http.StatusOK, tx.StatusCode)
	assert.Equal(t, "application/json", tx.ResponseHeaders.Get("content-type"))
	assert.NotEmpty(t, tx.ID)
}

func TestHookEmitsOnCloseWithoutRead(t *testing.T) {
	srv := newServer(t)
	client := &http.Client{}
	c := &collector{}
	h := New(client, 0, nil)
	require.NoError(t, h.Install(c.fn))

	resp, err := client.Get(srv.URL + "/ping")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	txs := c.all()
	require.Len(t, txs, 1)
	assert.Empty(t, txs[0].ResponseBody)
}

func TestHookDropsOversizedBody(t *testing.T) {
	srv := newServer(t)
	client := &http.Client{}
	c := &collector{}
	h := New(client, 4, nil)
	require.NoError(t, h.Install(c.fn))

	resp, err := client.Get(srv.URL + "/big")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	assert.Equal(t, `{"data":{"reviewId":"r-77"}}`, string(body))
	txs := c.all()
	require.Len(t, txs, 1)
	assert.Nil(t, txs[0].ResponseBody)
}

func TestHookRestore(t *testing.T) {
	srv := newServer(t)
	orig := &http.Transport{}
	client := &http.Client{Transport: orig}
	c := &collector{}
	h := New(client, 0, nil)

	assert.ErrorIs(t, h.Restore(), observer.ErrNotInstalled)
	require.NoError(t, h.Install(c.fn))
	require.NoError(t, h.Restore())
	assert.Same(t, orig, client.Transport)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Empty(t, c.all())
}

func TestHookCallbackPanicContained(t *testing.T) {
	srv := newServer(t)
	client := &http.Client{}
	h := New(client, 0, nil)
	require.NoError(t, h.Install(func(*traffic.InterceptedRequest) { panic("boom") }))

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.NotEmpty(t, body)
}

func TestHookStreamsRequestBody(t *testing.T) {
	firstSeen := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		head := make([]byte, 5)
		if _, err := io.ReadFull(r.Body, head); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		close(firstSeen)
		rest, _ := io.ReadAll(r.Body)
		_, _ = w.Write(append(head, rest...))
	}))
	t.Cleanup(srv.Close)

	client := &http.Client{}
	c := &collector{}
	h := New(client, 0, nil)
	require.NoError(t, h.Install(c.fn))

	pr, pw := io.Pipe()
	var delivered atomic.Bool
	go func() {
		_, _ = pw.Write([]byte("hello"))
		select {
		case <-firstSeen:
			delivered.Store(true)
		case <-time.After(2 * time.Second):
		}
		_, _ = pw.Write([]byte(" world"))
		_ = pw.Close()
	}()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/upload", pr)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.True(t, delivered.Load(), "first chunk must reach the server before the body is closed")
	assert.Equal(t, "hello world", string(body))
	txs := c.all()
	require.Len(t, txs, 1)
	assert.Equal(t, "hello world", string(txs[0].RequestBody))
	assert.Equal(t, "hello world", string(txs[0].ResponseBody))
}

func TestHookBoundsRequestCapture(t *testing.T) {
	srv := newServer(t)
	client := &http.Client{}
	c := &collector{}
	h := New(client, 8, nil)
	require.NoError(t, h.Install(c.fn))

	resp, err := client.Post(srv.URL, "text/plain", strings.NewReader("0123456789abcdef"))
	require.NoError(t, err)
	_, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	assert.Equal(t, "0123456789abcdef", resp.Header.Get("X-Echo"))
	txs := c.all()
	require.Len(t, txs, 1)
	assert.Nil(t, txs[0].RequestBody)
}
