package domain

import "time"

type RuleID string
type ExecutionID string

// SourceKind 字段取值来源
type SourceKind string

const (
	SourceElement      SourceKind = "element"
	SourceCookie       SourceKind = "cookie"
	SourceLocalStorage SourceKind = "local_storage"
	SourceSession      SourceKind = "session_storage"
	SourceStatic       SourceKind = "static"
	SourceRequestBody  SourceKind = "request_body"
	SourceResponseBody SourceKind = "response_body"
	SourceRequestURL   SourceKind = "request_url"
)

// IsAsync 是否需要观察网络事务才能取值
func (k SourceKind) IsAsync() bool {
	switch k {
	case SourceRequestBody, SourceResponseBody, SourceRequestURL:
		return true
	}
	return false
}

// IsKnown 是否为受支持的来源
func (k SourceKind) IsKnown() bool {
	switch k {
	case SourceElement, SourceCookie, SourceLocalStorage, SourceSession, SourceStatic,
		SourceRequestBody, SourceResponseBody, SourceRequestURL:
		return true
	}
	return false
}

// MappingConfig 各来源的配置，按来源使用其中的部分字段
type MappingConfig struct {
	// element
	Selector  string `yaml:"selector,omitempty" json:"selector,omitempty"`
	Attribute string `yaml:"attribute,omitempty" json:"attribute,omitempty"`

	// cookie
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// local_storage / session_storage
	Key string `yaml:"key,omitempty" json:"key,omitempty"`

	// static
	Value any `yaml:"value,omitempty" json:"value,omitempty"`

	// request_body / response_body / request_url
	Method  string `yaml:"method,omitempty" json:"method,omitempty"`
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Param   string `yaml:"param,omitempty" json:"param,omitempty"`
	Segment int    `yaml:"segment,omitempty" json:"segment,omitempty"`

	// 点分隔的键路径，用于请求/响应体与存储中的 JSON 值
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// FieldMapping 单个输出字段的声明
type FieldMapping struct {
	Field  string        `yaml:"field" json:"field"`
	Source SourceKind    `yaml:"source" json:"source"`
	Config MappingConfig `yaml:"config" json:"config"`
}

// Rule 事件规则，由配置加载，引擎只读
type Rule struct {
	ID             RuleID         `yaml:"id" json:"id"`
	EventKind      string         `yaml:"eventKind" json:"eventKind"`
	TargetSelector string         `yaml:"targetSelector" json:"targetSelector"`
	Mappings       []FieldMapping `yaml:"mappings" json:"mappings"`
}

// Partition 按来源将映射拆分为同步与异步两组，未知来源被忽略
func (r *Rule) Partition() (sync, async []FieldMapping) {
	for _, m := range r.Mappings {
		if m.Field == "" || !m.Source.IsKnown() {
			continue
		}
		if m.Source.IsAsync() {
			async = append(async, m)
		} else {
			sync = append(sync, m)
		}
	}
	return sync, async
}

// AsyncMappings 返回需要网络数据的映射
func (r *Rule) AsyncMappings() []FieldMapping {
	_, async := r.Partition()
	return async
}

// IdentityDescriptor 用户身份字段描述，来源词汇与字段映射一致
type IdentityDescriptor struct {
	Field          string        `yaml:"field" json:"field"`
	Source         SourceKind    `yaml:"source" json:"source"`
	Config         MappingConfig `yaml:"config" json:"config"`
	AnonymousField string        `yaml:"anonymousField" json:"anonymousField"`
}

// Enabled 是否配置了身份字段
func (d *IdentityDescriptor) Enabled() bool {
	return d != nil && d.Field != "" && d.Source.IsKnown()
}

// NetworkSourced 身份是否来自网络事务
func (d *IdentityDescriptor) NetworkSourced() bool {
	return d.Enabled() && d.Source.IsAsync()
}

// Status 执行状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// Element 触发插件提供的页面元素能力
type Element interface {
	// Query 在当前元素子树内按选择器查找第一个匹配元素
	Query(selector string) (Element, bool)
	// Attribute 读取属性
	Attribute(name string) (string, bool)
	// Text 元素文本内容
	Text() string
	// Value 表单控件的当前值
	Value() string
}

// CookieReader 读取 Cookie
type CookieReader interface {
	Cookie(name string) (string, bool)
}

// TriggerContext 触发时由插件提供的上下文快照
type TriggerContext struct {
	TriggerID string
	EventKind string
	Element   Element
	Container Element // 触发元素所在表单或容器
	Document  Element
	Cookies   CookieReader
	Fields    map[string]any // 插件已知的字面字段，如评论正文
	At        time.Time
}

// Record 完成后的字段记录
type Record map[string]any

// Clone 浅拷贝
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// CompleteFunc 完成回调，每个执行最多调用一次
type CompleteFunc func(Record)
