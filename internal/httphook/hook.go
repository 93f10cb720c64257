// Package httphook 以 http.RoundTripper 包装的方式观察 *http.Client 发出的事务。
// 请求体在传输层发送时、响应体在调用方读取时旁路复制，响应读取结束或关闭时上报事务。
package httphook

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"

	"eventcorr/internal/logger"
	"eventcorr/internal/observer"
	"eventcorr/pkg/traffic"

	"github.com/google/uuid"
)

const defaultMaxBody = 1 << 20

// Hook 包装一个 *http.Client 的传输层
type Hook struct {
	client  *http.Client
	maxBody int
	log     logger.Logger

	mu       sync.Mutex
	original http.RoundTripper
	fn       observer.TransactionFunc
}

// New 创建 HTTP 钩子，maxBody <= 0 时使用 1MiB
func New(client *http.Client, maxBody int, l logger.Logger) *Hook {
	if l == nil {
		l = logger.NewNop()
	}
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Hook{client: client, maxBody: maxBody, log: l}
}

// Name 钩子名称
func (h *Hook) Name() string { return "http" }

// Install 替换客户端的 Transport
func (h *Hook) Install(fn observer.TransactionFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fn != nil {
		h.fn = fn
		return nil
	}
	h.original = h.client.Transport
	h.fn = fn
	base := h.original
	if base == nil {
		base = http.DefaultTransport
	}
	h.client.Transport = &transport{base: base, hook: h}
	return nil
}

// Restore 还原客户端原有的 Transport
func (h *Hook) Restore() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fn == nil {
		return observer.ErrNotInstalled
	}
	h.client.Transport = h.original
	h.original, h.fn = nil, nil
	return nil
}

func (h *Hook) callback() observer.TransactionFunc {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fn
}

type transport struct {
	base http.RoundTripper
	hook *Hook
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	tx := traffic.NewInterceptedRequest(req.Method, req.URL.String(), time.Now())
	tx.ID = uuid.NewString()
	for k, vs := range req.Header {
		if len(vs) > 0 {
			tx.RequestHeaders.Set(k, vs[0])
		}
	}
	var sent *capture
	if req.Body != nil && req.Body != http.NoBody {
		// 请求体在传输层发送时旁路复制，不提前读取
		sent = newCapture(t.hook.maxBody)
		req = req.Clone(req.Context())
		req.Body = &requestTee{ReadCloser: req.Body, c: sent}
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	tx.StatusCode = resp.StatusCode
	for k, vs := range resp.Header {
		if len(vs) > 0 {
			tx.ResponseHeaders.Set(k, vs[0])
		}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		tx.RequestBody = sent.bytes()
		t.emit(tx)
		return resp, nil
	}
	resp.Body = &teeBody{rc: resp.Body, tx: tx, t: t, sent: sent, got: newCapture(t.hook.maxBody)}
	return resp, nil
}

func (t *transport) emit(tx *traffic.InterceptedRequest) {
	fn := t.hook.callback()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.hook.log.Error("事务回调异常", "panic", r, "url", tx.URL)
		}
	}()
	fn(tx)
}

// capture 有上限的旁路副本，超过上限后丢弃全部内容
type capture struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func newCapture(limit int) *capture { return &capture{limit: limit} }

func (c *capture) write(p []byte) {
	if len(p) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overflow {
		return
	}
	if c.buf.Len()+len(p) > c.limit {
		c.overflow = true
		c.buf = bytes.Buffer{}
		return
	}
	c.buf.Write(p)
}

// bytes 返回目前复制到的内容，溢出或为空时返回 nil
func (c *capture) bytes() []byte {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overflow || c.buf.Len() == 0 {
		return nil
	}
	return append([]byte(nil), c.buf.Bytes()...)
}

// requestTee 传输层读取请求体时复制一份
type requestTee struct {
	io.ReadCloser
	c *capture
}

func (r *requestTee) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.c.write(p[:n])
	return n, err
}

// teeBody 复制调用方读取到的响应体，读完或关闭时上报事务
type teeBody struct {
	rc   io.ReadCloser
	tx   *traffic.InterceptedRequest
	t    *transport
	sent *capture
	got  *capture
	once sync.Once
}

func (b *teeBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	b.got.write(p[:n])
	if err == io.EOF {
		b.finish()
	}
	return n, err
}

func (b *teeBody) Close() error {
	err := b.rc.Close()
	b.finish()
	return err
}

func (b *teeBody) finish() {
	b.once.Do(func() {
		b.tx.RequestBody = b.sent.bytes()
		b.tx.ResponseBody = b.got.bytes()
		b.t.emit(b.tx)
	})
}
