package domain

import (
	"net/url"
	"strings"
)

// CookieJar 名称到值的 Cookie 快照，实现 CookieReader
type CookieJar map[string]string

// Cookie 读取 Cookie，值按 URL 编码尝试解码
func (j CookieJar) Cookie(name string) (string, bool) {
	v, ok := j[name]
	if !ok {
		return "", false
	}
	if s, err := url.QueryUnescape(v); err == nil {
		v = s
	}
	return v, true
}

// ParseCookieHeader 解析 document.cookie / Cookie 头格式的字符串
func ParseCookieHeader(s string) CookieJar {
	out := make(CookieJar)
	for _, p := range strings.Split(s, ";") {
		kv := strings.SplitN(strings.TrimSpace(p), "=", 2)
		if len(kv) == 2 && kv[0] != "" {
			out[kv[0]] = kv[1]
		}
	}
	return out
}
