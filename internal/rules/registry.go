package rules

import (
	"sort"
	"strings"
	"sync"

	"eventcorr/internal/pattern"
	"eventcorr/pkg/domain"
)

// NetMapping 已编译的异步字段映射
type NetMapping struct {
	domain.FieldMapping
	matcher *pattern.Matcher
}

// Method 映射限定的方法，空表示任意
func (n *NetMapping) Method() string { return n.Config.Method }

// methodMatches 方法是否匹配
func (n *NetMapping) methodMatches(method string) bool {
	return n.Config.Method == "" || strings.EqualFold(n.Config.Method, method)
}

// MayMatch 廉价预过滤：方法 + 字面段
func (n *NetMapping) MayMatch(method, url string) bool {
	return n.methodMatches(method) && n.matcher.MatchStaticSegments(url)
}

// Matches 完整匹配：方法 + 路径模板
func (n *NetMapping) Matches(method, url string) bool {
	return n.methodMatches(method) && n.matcher.Match(url)
}

// Registered 已登记、需要持续匹配网络流量的规则
type Registered struct {
	Rule     domain.Rule
	Mappings []*NetMapping
}

// MayMatch 是否存在可能匹配该事务的映射
func (r *Registered) MayMatch(method, url string) bool {
	for _, m := range r.Mappings {
		if m.MayMatch(method, url) {
			return true
		}
	}
	return false
}

// Matching 返回完整匹配该事务的映射
func (r *Registered) Matching(method, url string) []*NetMapping {
	var out []*NetMapping
	for _, m := range r.Mappings {
		if m.Matches(method, url) {
			out = append(out, m)
		}
	}
	return out
}

// Compile 编译规则的异步映射；模板格式错误的映射被跳过，返回被跳过的字段
func Compile(rule domain.Rule) (*Registered, []string) {
	reg := &Registered{Rule: rule}
	var skipped []string
	for _, m := range rule.AsyncMappings() {
		matcher := pattern.Get(m.Config.Pattern)
		if matcher == nil {
			skipped = append(skipped, m.Field)
			continue
		}
		reg.Mappings = append(reg.Mappings, &NetMapping{FieldMapping: m, matcher: matcher})
	}
	return reg, skipped
}

// Registry 规则登记表，按规则ID索引；登记与注销均幂等
type Registry struct {
	mu    sync.RWMutex
	rules map[domain.RuleID]*Registered
}

// NewRegistry 创建登记表
func NewRegistry() *Registry {
	return &Registry{rules: make(map[domain.RuleID]*Registered)}
}

// Register 登记规则，已存在时保持原登记，返回是否新登记
func (r *Registry) Register(rule domain.Rule) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[rule.ID]; ok {
		return false
	}
	reg, _ := Compile(rule)
	if len(reg.Mappings) == 0 {
		return false
	}
	r.rules[rule.ID] = reg
	return true
}

// Unregister 注销规则，返回是否存在
func (r *Registry) Unregister(id domain.RuleID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rules[id]
	delete(r.rules, id)
	return ok
}

// Has 是否已登记
func (r *Registry) Has(id domain.RuleID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rules[id]
	return ok
}

// Len 登记规则数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// IDs 返回已登记的规则ID（有序）
func (r *Registry) IDs() []domain.RuleID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RuleID, 0, len(r.rules))
	for id := range r.rules {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Candidates 预过滤出可能匹配该事务的规则，按规则ID排序
func (r *Registry) Candidates(method, url string) []*Registered {
	r.mu.RLock()
	var out []*Registered
	for _, reg := range r.rules {
		if reg.MayMatch(method, url) {
			out = append(out, reg)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Rule.ID < out[j].Rule.ID })
	return out
}
