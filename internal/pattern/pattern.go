// Package pattern 编译路径模板（字面段 + :name / {name} 占位段），
// 支持整路径匹配、按顺序的子序列部分匹配以及命名参数提取。
package pattern

import (
	"errors"
	"net/url"
	"strings"
	"sync"
)

// ErrMalformed 模板格式错误
var ErrMalformed = errors.New("malformed path pattern")

type segment struct {
	literal string
	param   string // 非空表示占位段
}

func (s segment) isParam() bool { return s.param != "" }

func (s segment) matches(v string) bool {
	if s.isParam() {
		return v != ""
	}
	return s.literal == v
}

// Matcher 已编译的路径模板
type Matcher struct {
	raw      string
	segments []segment
}

// Compile 编译路径模板，无前导分隔符的模板会被补齐
func Compile(p string) (*Matcher, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return nil, ErrMalformed
	}
	p = stripQuery(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	m := &Matcher{raw: p}
	seen := make(map[string]bool)
	for _, part := range strings.Split(p, "/") {
		if part == "" {
			continue
		}
		seg, err := parseSegment(part)
		if err != nil {
			return nil, err
		}
		if seg.isParam() {
			if seen[seg.param] {
				return nil, ErrMalformed
			}
			seen[seg.param] = true
		}
		m.segments = append(m.segments, seg)
	}
	return m, nil
}

func parseSegment(part string) (segment, error) {
	switch {
	case strings.HasPrefix(part, ":"):
		name := part[1:]
		if !validName(name) {
			return segment{}, ErrMalformed
		}
		return segment{param: name}, nil
	case strings.HasPrefix(part, "{"):
		if !strings.HasSuffix(part, "}") {
			return segment{}, ErrMalformed
		}
		name := part[1 : len(part)-1]
		if !validName(name) {
			return segment{}, ErrMalformed
		}
		return segment{param: name}, nil
	case strings.ContainsAny(part, "{}"):
		return segment{}, ErrMalformed
	}
	return segment{literal: part}, nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		if !(c == '_' || c == '-' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

// String 返回规范化后的模板
func (m *Matcher) String() string { return m.raw }

// Params 返回占位参数名（按出现顺序）
func (m *Matcher) Params() []string {
	var out []string
	for _, s := range m.segments {
		if s.isParam() {
			out = append(out, s.param)
		}
	}
	return out
}

// Literals 返回字面段（按出现顺序）
func (m *Matcher) Literals() []string {
	var out []string
	for _, s := range m.segments {
		if !s.isParam() {
			out = append(out, s.literal)
		}
	}
	return out
}

// MatchFull URL 路径是否与模板逐段相等
func (m *Matcher) MatchFull(rawURL string) bool {
	_, ok := m.bindFull(Segments(rawURL))
	return ok
}

// Match 先尝试整路径匹配，失败后尝试子序列部分匹配
func (m *Matcher) Match(rawURL string) bool {
	_, ok := m.bind(Segments(rawURL))
	return ok
}

// ExtractParams 提取占位参数值，不匹配时返回空映射
func (m *Matcher) ExtractParams(rawURL string) map[string]string {
	out := make(map[string]string)
	segs := Segments(rawURL)
	idx, ok := m.bind(segs)
	if !ok {
		return out
	}
	for i, s := range m.segments {
		if s.isParam() {
			out[s.param] = segs[idx[i]]
		}
	}
	return out
}

// MatchStaticSegments 廉价预过滤：模板的每个字面段都出现在 URL 段列表中
func (m *Matcher) MatchStaticSegments(rawURL string) bool {
	segs := Segments(rawURL)
	set := make(map[string]struct{}, len(segs))
	for _, s := range segs {
		set[s] = struct{}{}
	}
	for _, s := range m.segments {
		if s.isParam() {
			continue
		}
		if _, ok := set[s.literal]; !ok {
			return false
		}
	}
	return true
}

// bind 返回每个模板段对应的 URL 段下标
func (m *Matcher) bind(segs []string) ([]int, bool) {
	if idx, ok := m.bindFull(segs); ok {
		return idx, true
	}
	if len(m.segments) == 0 {
		return nil, false
	}
	if idx, ok := m.bindContiguous(segs); ok {
		return idx, true
	}
	return m.bindSubsequence(segs)
}

func (m *Matcher) bindFull(segs []string) ([]int, bool) {
	if len(segs) != len(m.segments) {
		return nil, false
	}
	idx := make([]int, len(segs))
	for i, s := range m.segments {
		if !s.matches(segs[i]) {
			return nil, false
		}
		idx[i] = i
	}
	return idx, true
}

// bindContiguous 优先寻找连续窗口，参数提取结果更符合直觉
func (m *Matcher) bindContiguous(segs []string) ([]int, bool) {
	n := len(m.segments)
	for start := 0; start+n <= len(segs); start++ {
		ok := true
		for i, s := range m.segments {
			if !s.matches(segs[start+i]) {
				ok = false
				break
			}
		}
		if ok {
			idx := make([]int, n)
			for i := range idx {
				idx[i] = start + i
			}
			return idx, true
		}
	}
	return nil, false
}

// bindSubsequence 贪心匹配有序子序列；每段的可匹配集合与位置无关，贪心即最优
func (m *Matcher) bindSubsequence(segs []string) ([]int, bool) {
	idx := make([]int, 0, len(m.segments))
	j := 0
	for i := 0; i < len(segs) && j < len(m.segments); i++ {
		if m.segments[j].matches(segs[i]) {
			idx = append(idx, i)
			j++
		}
	}
	if j < len(m.segments) {
		return nil, false
	}
	return idx, true
}

// Segments 将 URL 规范化为路径段：去掉协议、主机、查询串与片段
func Segments(rawURL string) []string {
	p := Path(rawURL)
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Path 返回 URL 的路径部分，始终以 / 开头
func Path(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	if strings.Contains(raw, "://") || strings.HasPrefix(raw, "//") {
		if u, err := url.Parse(raw); err == nil {
			raw = u.Path
		} else {
			raw = stripQuery(raw)
			if i := strings.Index(raw, "://"); i >= 0 {
				raw = raw[i+3:]
			}
			raw = strings.TrimPrefix(raw, "//")
			if i := strings.Index(raw, "/"); i >= 0 {
				raw = raw[i:]
			} else {
				raw = "/"
			}
		}
	} else {
		raw = stripQuery(raw)
		if s, err := url.PathUnescape(raw); err == nil {
			raw = s
		}
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return raw
}

func stripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}

var cache sync.Map // pattern -> *Matcher，编译失败缓存为 nil

// Get 返回缓存的编译结果，格式错误时返回 nil
func Get(p string) *Matcher {
	if v, ok := cache.Load(p); ok {
		m, _ := v.(*Matcher)
		return m
	}
	m, err := Compile(p)
	if err != nil {
		cache.Store(p, (*Matcher)(nil))
		return nil
	}
	cache.Store(p, m)
	return m
}

// Match 模板格式错误时失败关闭，返回 false
func Match(rawURL, p string) bool {
	m := Get(p)
	return m != nil && m.Match(rawURL)
}

// ExtractParams 模板格式错误时返回空映射
func ExtractParams(rawURL, p string) map[string]string {
	m := Get(p)
	if m == nil {
		return map[string]string{}
	}
	return m.ExtractParams(rawURL)
}

// MatchStaticSegments 模板格式错误时返回 false
func MatchStaticSegments(rawURL, p string) bool {
	m := Get(p)
	return m != nil && m.MatchStaticSegments(rawURL)
}
