// Package extract 从请求/响应体、URL 与存储值中按配置取值。
// 取不到值时返回 ok=false，从不报错。
package extract

import (
	"bytes"
	"net/url"
	"strings"

	"eventcorr/internal/pattern"
	"eventcorr/pkg/domain"

	"github.com/tidwall/gjson"
)

// FromBody 按点分隔键路径从消息体取值：JSON 可解析时走 JSON，
// 否则尝试表单编码；path 为空时返回整个消息体
func FromBody(body []byte, path string) (any, bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, false
	}
	if gjson.ValidBytes(body) {
		var r gjson.Result
		if path == "" {
			r = gjson.ParseBytes(body)
		} else {
			r = gjson.GetBytes(body, path)
		}
		return resultValue(r)
	}
	if path == "" {
		return string(body), true
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, false
	}
	if v := values.Get(path); v != "" {
		return v, true
	}
	return nil, false
}

// FromString 从存储中的字符串取值，path 非空时把值视为 JSON
func FromString(s, path string) (any, bool) {
	if path == "" {
		if strings.TrimSpace(s) == "" {
			return nil, false
		}
		return s, true
	}
	if !gjson.Valid(s) {
		return nil, false
	}
	return resultValue(gjson.Get(s, path))
}

// FromURL 从 URL 取值：param 优先匹配模板占位参数，其次查询参数；
// segment 为从 1 开始的路径段序号
func FromURL(rawURL string, cfg domain.MappingConfig) (any, bool) {
	if cfg.Param != "" {
		if cfg.Pattern != "" {
			if v, ok := pattern.ExtractParams(rawURL, cfg.Pattern)[cfg.Param]; ok && v != "" {
				return v, true
			}
		}
		if v := QueryParam(rawURL, cfg.Param); v != "" {
			return v, true
		}
		return nil, false
	}
	if cfg.Segment > 0 {
		segs := pattern.Segments(rawURL)
		if cfg.Segment <= len(segs) {
			return segs[cfg.Segment-1], true
		}
	}
	return nil, false
}

// QueryParam 读取查询参数
func QueryParam(rawURL, name string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get(name)
}

func resultValue(r gjson.Result) (any, bool) {
	if !r.Exists() || r.Type == gjson.Null {
		return nil, false
	}
	if r.Type == gjson.String && r.Str == "" {
		return nil, false
	}
	return r.Value(), true
}
