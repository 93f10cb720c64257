package cdp

import (
	"context"
	"time"

	adapter "eventcorr/internal/adapter/cdp"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/fetch"
)

const startedTTL = 2 * time.Minute

// consume 持续接收拦截事件，每个事件独立处理
func (m *Manager) consume(rp fetch.RequestPausedClient) {
	defer m.wg.Done()
	defer rp.Close()
	m.log.Info("开始消费拦截事件流")
	for {
		ev, err := rp.Recv()
		if err != nil {
			m.log.Debug("拦截事件流结束", "error", err)
			return
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.handle(ev)
		}()
	}
}

// handle 请求阶段记录发出时间后放行；响应阶段读取响应体、放行，再上报事务
func (m *Manager) handle(ev *fetch.RequestPausedReply) {
	client := m.Client()
	if client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.processTimeout)
	defer cancel()

	if ev.ResponseStatusCode == nil && ev.ResponseErrorReason == nil {
		m.markStarted(ev.RequestID)
		if err := client.Fetch.ContinueRequest(ctx, &fetch.ContinueRequestArgs{RequestID: ev.RequestID}); err != nil {
			m.log.Err(err, "放行请求失败", "url", ev.Request.URL)
		}
		return
	}

	requestedAt := m.takeStarted(ev.RequestID)
	body := m.readBody(ctx, client, ev)
	if err := client.Fetch.ContinueResponse(ctx, &fetch.ContinueResponseArgs{RequestID: ev.RequestID}); err != nil {
		m.log.Err(err, "放行响应失败", "url", ev.Request.URL)
	}

	if fn := m.callback(); fn != nil {
		fn(adapter.ToInterceptedRequest(ev, body, requestedAt))
	}
}

func (m *Manager) readBody(ctx context.Context, client *cdp.Client, ev *fetch.RequestPausedReply) []byte {
	if !adapter.HasReadableBody(ev) {
		return nil
	}
	reply, err := client.Fetch.GetResponseBody(ctx, &fetch.GetResponseBodyArgs{RequestID: ev.RequestID})
	if err != nil {
		m.log.Debug("读取响应体失败", "url", ev.Request.URL, "error", err)
		return nil
	}
	body := adapter.DecodeBody(reply)
	if m.maxBody > 0 && len(body) > m.maxBody {
		m.log.Debug("响应体超过上限，已忽略", "url", ev.Request.URL, "size", len(body))
		return nil
	}
	return body
}

func (m *Manager) markStarted(id fetch.RequestID) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started[id] = now
	if len(m.started) > 1024 {
		for k, t := range m.started {
			if now.Sub(t) > startedTTL {
				delete(m.started, k)
			}
		}
	}
}

func (m *Manager) takeStarted(id fetch.RequestID) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.started[id]
	if !ok {
		return time.Now()
	}
	delete(m.started, id)
	return t
}
