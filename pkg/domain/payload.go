package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/tidwall/sjson"
)

// Payload 将记录组装为投递用的 JSON；字段名中的点会生成嵌套对象
func (r Record) Payload(ruleID RuleID, eventKind string, at time.Time) ([]byte, error) {
	out := []byte(`{}`)
	var err error
	if out, err = sjson.SetBytes(out, "ruleId", string(ruleID)); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "eventType", eventKind); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "timestamp", at.UnixMilli()); err != nil {
		return nil, err
	}
	if out, err = sjson.SetRawBytes(out, "fields", []byte(`{}`)); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if out, err = sjson.SetBytes(out, "fields."+escapePath(k), r[k]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// escapePath 转义字段名中的路径元字符，点仍作为嵌套分隔符
func escapePath(k string) string {
	if !strings.ContainsAny(k, `\|#@*?`) {
		return k
	}
	var b strings.Builder
	for i := 0; i < len(k); i++ {
		switch k[i] {
		case '\\', '|', '#', '@', '*', '?':
			b.WriteByte('\\')
		}
		b.WriteByte(k[i])
	}
	return b.String()
}
