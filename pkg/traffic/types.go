package traffic

import (
	"net/http"
	"strings"
	"time"
)

// Header 封装通用的头部操作
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除指定 Header
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// InterceptedRequest 一次被观察到的网络事务，仅在处理期间存在
type InterceptedRequest struct {
	ID              string    // 事务唯一ID
	URL             string    // 完整URL
	Method          string    // HTTP方法
	Timestamp       time.Time // 请求发出时间
	RequestHeaders  Header
	RequestBody     []byte
	StatusCode      int
	ResponseHeaders Header
	ResponseBody    []byte
}

// NewInterceptedRequest 创建初始化的事务对象
func NewInterceptedRequest(method, url string, ts time.Time) *InterceptedRequest {
	if method == "" {
		method = http.MethodGet
	}
	return &InterceptedRequest{
		URL:             url,
		Method:          strings.ToUpper(method),
		Timestamp:       ts,
		RequestHeaders:  make(Header),
		ResponseHeaders: make(Header),
	}
}

// MethodHasBody 该方法的请求是否携带请求体
func MethodHasBody(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, "":
		return false
	}
	return true
}
