// Package observer 网络观察层：每进程只允许一个运行中的实例，
// 通过钩子旁路观察宿主发出的网络事务，把匹配到的值推送给执行管理器。
// 它不感知具体触发，只知道哪些已登记规则需要网络数据。
package observer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"eventcorr/internal/execution"
	"eventcorr/internal/identity"
	"eventcorr/internal/logger"
	"eventcorr/internal/rules"
	"eventcorr/pkg/domain"
)

var (
	// ErrAlreadyRunning 本进程已有运行中的观察层
	ErrAlreadyRunning = errors.New("network observer already running in this process")
	// ErrNoHooks 没有任何钩子安装成功
	ErrNoHooks = errors.New("no network hook installed")
)

var running atomic.Pointer[Observer]

// Executions 观察层依赖的执行管理器能力
type Executions interface {
	FindMatchingContext(ruleID domain.RuleID, ts time.Time, fields ...string) (execution.Execution, bool)
	CollectField(id domain.ExecutionID, field string, value any) bool
}

// Event 观察事件
type Event struct {
	Type        string             `json:"type"` // identity, collected, unmatched
	Rule        domain.RuleID      `json:"rule,omitempty"`
	ExecutionID domain.ExecutionID `json:"executionId,omitempty"`
	URL         string             `json:"url"`
	Method      string             `json:"method"`
	Fields      []string           `json:"fields,omitempty"`
	Timestamp   int64              `json:"timestamp"`
}

// Config 观察层配置
type Config struct {
	Hooks      []Hook
	Executions Executions
	Logger     logger.Logger
	Events     chan Event // 可选，满时丢弃
}

// Observer 网络观察层
type Observer struct {
	hooks    []Hook
	registry *rules.Registry
	execs    Executions
	events   chan Event
	log      logger.Logger

	mu        sync.RWMutex
	installed []Hook
	started   bool
	identity  *domain.IdentityDescriptor
	idCache   *identity.Cache
}

// New 创建观察层，需显式 Start
func New(cfg Config) *Observer {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Observer{
		hooks:    cfg.Hooks,
		registry: rules.NewRegistry(),
		execs:    cfg.Executions,
		events:   cfg.Events,
		log:      cfg.Logger,
	}
}

// Start 安装全部钩子。单个钩子失败只记录日志；全部失败时返回错误，
// 调用方应继续以仅同步模式运行
func (o *Observer) Start() error {
	if !running.CompareAndSwap(nil, o) {
		if running.Load() == o {
			return nil
		}
		return ErrAlreadyRunning
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	var errs []error
	for _, h := range o.hooks {
		if err := safeInstall(h, o.HandleTransaction); err != nil {
			o.log.Err(err, "安装网络钩子失败", "hook", h.Name())
			errs = append(errs, fmt.Errorf("%s: %w", h.Name(), err))
			continue
		}
		o.installed = append(o.installed, h)
		o.log.Info("网络钩子已安装", "hook", h.Name())
	}
	o.started = true
	if len(o.installed) == 0 {
		o.log.Warn("没有可用的网络钩子，降级为仅同步模式")
		return errors.Join(append([]error{ErrNoHooks}, errs...)...)
	}
	return nil
}

// Stop 恢复全部钩子并释放进程级实例
func (o *Observer) Stop() error {
	o.mu.Lock()
	var errs []error
	for i := len(o.installed) - 1; i >= 0; i-- {
		h := o.installed[i]
		if err := h.Restore(); err != nil {
			o.log.Err(err, "恢复网络钩子失败", "hook", h.Name())
			errs = append(errs, fmt.Errorf("%s: %w", h.Name(), err))
		}
	}
	o.installed = nil
	o.started = false
	o.mu.Unlock()

	running.CompareAndSwap(o, nil)
	return errors.Join(errs...)
}

// Active 是否至少有一个钩子在工作
func (o *Observer) Active() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.started && len(o.installed) > 0
}

// RegisterRule 登记需要网络数据的规则（幂等）
func (o *Observer) RegisterRule(rule domain.Rule) {
	if o.registry.Register(rule) {
		o.log.Debug("登记规则", "rule", string(rule.ID))
	}
}

// UnregisterRule 注销规则（幂等）
func (o *Observer) UnregisterRule(id domain.RuleID) {
	if o.registry.Unregister(id) {
		o.log.Debug("注销规则", "rule", string(id))
	}
}

// RegisteredRules 已登记的规则ID
func (o *Observer) RegisteredRules() []domain.RuleID { return o.registry.IDs() }

// SetIdentity 设置身份描述与缓存
func (o *Observer) SetIdentity(desc *domain.IdentityDescriptor, cache *identity.Cache) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.identity = desc
	o.idCache = cache
}

func (o *Observer) identityConfig() (*domain.IdentityDescriptor, *identity.Cache) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.identity, o.idCache
}

// sendEvent 非阻塞发送观察事件
func (o *Observer) sendEvent(evt Event) {
	if o.events == nil {
		return
	}
	evt.Timestamp = time.Now().UnixMilli()
	select {
	case o.events <- evt:
	default:
	}
}

func safeInstall(h Hook, fn TransactionFunc) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("install panicked: %v", p)
		}
	}()
	return h.Install(fn)
}
