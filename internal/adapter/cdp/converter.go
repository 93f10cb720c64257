package cdp

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"eventcorr/pkg/traffic"

	"github.com/mafredri/cdp/protocol/fetch"
)

// ToInterceptedRequest 将响应阶段的 CDP 拦截事件转换为中立事务模型
func ToInterceptedRequest(ev *fetch.RequestPausedReply, body []byte, requestedAt time.Time) *traffic.InterceptedRequest {
	tx := traffic.NewInterceptedRequest(ev.Request.Method, ev.Request.URL, requestedAt)
	tx.ID = string(ev.RequestID)

	// 处理 Header
	var headers map[string]string
	if len(ev.Request.Headers) > 0 {
		if err := json.Unmarshal(ev.Request.Headers, &headers); err == nil {
			for k, v := range headers {
				tx.RequestHeaders.Set(k, v)
			}
		}
	}
	if ev.Request.PostData != nil {
		tx.RequestBody = []byte(*ev.Request.PostData)
	}

	if ev.ResponseStatusCode != nil {
		tx.StatusCode = *ev.ResponseStatusCode
	}
	for _, h := range ev.ResponseHeaders {
		tx.ResponseHeaders.Set(h.Name, h.Value)
	}
	tx.ResponseBody = body
	return tx
}

// DecodeBody 解码 Fetch.getResponseBody 的返回
func DecodeBody(reply *fetch.GetResponseBodyReply) []byte {
	if reply == nil {
		return nil
	}
	if reply.Base64Encoded {
		b, err := base64.StdEncoding.DecodeString(reply.Body)
		if err != nil {
			return nil
		}
		return b
	}
	return []byte(reply.Body)
}

// HasReadableBody 响应是否可读取消息体（重定向与失败的请求没有）
func HasReadableBody(ev *fetch.RequestPausedReply) bool {
	if ev.ResponseErrorReason != nil || ev.ResponseStatusCode == nil {
		return false
	}
	code := *ev.ResponseStatusCode
	return code < 300 || code >= 400
}
