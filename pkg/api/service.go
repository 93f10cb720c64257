package api

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"eventcorr/internal/config"
	"eventcorr/internal/execution"
	"eventcorr/internal/identity"
	"eventcorr/internal/logger"
	"eventcorr/internal/observer"
	"eventcorr/internal/orchestrator"
	"eventcorr/internal/storage"
	"eventcorr/internal/store"
	"eventcorr/pkg/domain"

	"github.com/jonboulle/clockwork"
)

// ErrUnknownRule 规则ID未在配置中
var ErrUnknownRule = errors.New("unknown rule")

type (
	Stats = execution.Stats
	Event = observer.Event
)

// Engine 关联引擎接口
type Engine interface {
	// Start 安装网络钩子；没有钩子可用时降级为仅同步模式并返回 nil
	Start() error

	// Stop 恢复钩子并停止全部计时器
	Stop() error

	// HandleTrigger 处理一次触发，返回开启的执行ID，仅同步时为空
	HandleTrigger(ctx context.Context, rule domain.Rule, trig *domain.TriggerContext, onComplete domain.CompleteFunc) domain.ExecutionID

	// Trigger 按规则ID处理一次触发
	Trigger(ctx context.Context, id domain.RuleID, trig *domain.TriggerContext, onComplete domain.CompleteFunc) (domain.ExecutionID, error)

	// Rules 返回配置中的规则
	Rules() []domain.Rule

	// Execution 查询执行快照
	Execution(id domain.ExecutionID) (execution.Execution, bool)

	// Stats 获取执行统计
	Stats() Stats

	// Events 观察事件流，消费不及时时事件被丢弃
	Events() <-chan Event
}

// Options 组装选项，零值字段使用默认实现
type Options struct {
	Hooks  []observer.Hook
	Logger logger.Logger
	Clock  clockwork.Clock
	Local  store.KV // 为空时打开 sqlite 存储
}

type engine struct {
	cfg     *config.Config
	rules   map[domain.RuleID]domain.Rule
	log     logger.Logger
	local   store.KV
	closer  func() error
	execs   *execution.Manager
	obs     *observer.Observer
	builder *orchestrator.Builder
	events  chan Event

	stopOnce sync.Once
}

// New 按配置组装引擎
func New(cfg *config.Config, opts Options) (Engine, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := opts.Logger
	if l == nil {
		l = logger.New(logger.Options{
			Level:      cfg.Log.Level,
			Writer:     cfg.Log.Writer,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
	}

	e := &engine{
		cfg:    cfg,
		rules:  make(map[domain.RuleID]domain.Rule, len(cfg.Rules)),
		log:    l,
		local:  opts.Local,
		events: make(chan Event, 64),
	}
	for _, r := range cfg.Rules {
		e.rules[r.ID] = r
	}
	if e.local == nil {
		db, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, l)
		if err != nil {
			return nil, fmt.Errorf("open local storage: %w", err)
		}
		e.local = db
		e.closer = db.Close
	}
	idCache := identity.NewCache(e.local)

	e.execs = execution.New(execution.Config{
		MatchWindow:  cfg.Engine.MatchWindow(),
		MaxWait:      cfg.Engine.MaxWait(),
		CleanupGrace: cfg.Engine.CleanupGrace(),
		Clock:        opts.Clock,
		Logger:       l,
		OnRemoved: func(ruleID domain.RuleID, _ int) {
			e.builder.ExecutionRemoved(ruleID)
		},
	})
	e.obs = observer.New(observer.Config{
		Hooks:      opts.Hooks,
		Executions: e.execs,
		Logger:     l,
		Events:     e.events,
	})
	e.obs.SetIdentity(cfg.Identity, idCache)
	e.builder = orchestrator.New(orchestrator.Config{
		Executions:    e.execs,
		Observer:      e.obs,
		Local:         e.local,
		Session:       store.NewMemory(),
		Identity:      cfg.Identity,
		IdentityCache: idCache,
		Logger:        l,
	})
	return e, nil
}

func (e *engine) Start() error {
	err := e.obs.Start()
	if err == nil {
		return nil
	}
	if errors.Is(err, observer.ErrNoHooks) {
		e.log.Warn("网络观察不可用，继续以仅同步模式运行", "error", err.Error())
		return nil
	}
	return err
}

func (e *engine) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		err = e.obs.Stop()
		e.execs.Close()
		if e.closer != nil {
			err = errors.Join(err, e.closer())
		}
	})
	return err
}

func (e *engine) HandleTrigger(ctx context.Context, rule domain.Rule, trig *domain.TriggerContext, onComplete domain.CompleteFunc) domain.ExecutionID {
	return e.builder.HandleTrigger(ctx, rule, trig, onComplete)
}

func (e *engine) Trigger(ctx context.Context, id domain.RuleID, trig *domain.TriggerContext, onComplete domain.CompleteFunc) (domain.ExecutionID, error) {
	rule, ok := e.rules[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRule, id)
	}
	return e.builder.HandleTrigger(ctx, rule, trig, onComplete), nil
}

func (e *engine) Rules() []domain.Rule {
	return append([]domain.Rule(nil), e.cfg.Rules...)
}

func (e *engine) Execution(id domain.ExecutionID) (execution.Execution, bool) {
	return e.execs.Get(id)
}

func (e *engine) Stats() Stats { return e.execs.Stats() }

func (e *engine) Events() <-chan Event { return e.events }
