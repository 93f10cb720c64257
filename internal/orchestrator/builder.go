// Package orchestrator 负载组装：触发插件的入口。
// 把规则映射拆成同步/异步两组，同步字段当场解析；存在异步字段时开启执行、
// 向观察层登记规则，并在执行完成时合并两部分后回调调用方。
package orchestrator

import (
	"context"
	"sync"

	"eventcorr/internal/ctxkeys"
	"eventcorr/internal/execution"
	"eventcorr/internal/identity"
	"eventcorr/internal/logger"
	"eventcorr/internal/rules"
	"eventcorr/internal/store"
	"eventcorr/pkg/domain"

	"github.com/google/uuid"
)

const DefaultAnonymousField = "AnonymousId"

// Registrar 观察层的规则登记能力
type Registrar interface {
	RegisterRule(rule domain.Rule)
	UnregisterRule(id domain.RuleID)
	Active() bool
}

// Config 组装器配置
type Config struct {
	Executions    *execution.Manager
	Observer      Registrar
	Local         store.KV // 本地持久化存储
	Session       store.KV // 会话级存储
	Identity      *domain.IdentityDescriptor
	IdentityCache *identity.Cache
	Logger        logger.Logger
}

// Builder 负载组装器
type Builder struct {
	execs    *execution.Manager
	obs      Registrar
	local    store.KV
	session  store.KV
	identity *domain.IdentityDescriptor
	idCache  *identity.Cache
	log      logger.Logger

	// regMu 串行化“开启执行+登记规则”与“最后一个执行移除后注销规则”
	regMu sync.Mutex
}

// New 创建组装器
func New(cfg Config) *Builder {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Session == nil {
		cfg.Session = store.NewMemory()
	}
	if cfg.IdentityCache == nil {
		cfg.IdentityCache = identity.NewCache(cfg.Local)
	}
	if cfg.Identity != nil && cfg.Identity.AnonymousField == "" {
		d := *cfg.Identity
		d.AnonymousField = DefaultAnonymousField
		cfg.Identity = &d
	}
	return &Builder{
		execs:    cfg.Executions,
		obs:      cfg.Observer,
		local:    cfg.Local,
		session:  cfg.Session,
		identity: cfg.Identity,
		idCache:  cfg.IdentityCache,
		log:      cfg.Logger,
	}
}

// HandleTrigger 处理一次触发。无异步字段时同步回调并返回空ID；
// 否则开启执行并返回其ID，回调稍后由观察层或执行完成触发。从不向调用方报错
func (b *Builder) HandleTrigger(ctx context.Context, rule domain.Rule, trig *domain.TriggerContext, onComplete domain.CompleteFunc) domain.ExecutionID {
	// 调用方的上下文只读，补全 TriggerID 在副本上进行
	var tc domain.TriggerContext
	if trig != nil {
		tc = *trig
	}
	if tc.TriggerID == "" {
		tc.TriggerID = uuid.NewString()
	}
	trig = &tc
	ctx = context.WithValue(ctx, ctxkeys.TraceIDKey{}, trig.TriggerID)
	l := b.log.With("rule", string(rule.ID), "triggerId", trig.TriggerID)

	defer func() {
		if p := recover(); p != nil {
			l.Error("处理触发异常", "panic", p)
		}
	}()

	// 1. 拆分同步/异步映射，模板无效的异步映射按字段缺失处理
	syncMappings, _ := rule.Partition()
	compiled, skipped := rules.Compile(rule)
	if len(skipped) > 0 {
		l.Warn("异步映射配置无效，字段将缺失", "fields", skipped)
	}

	// 2. 同步字段当场解析，取不到的直接省略
	partial := b.resolvePartial(ctx, syncMappings, trig, l)

	// 3. 没有异步字段：同步完成，不创建执行
	if len(compiled.Mappings) == 0 {
		l.Debug("规则仅含同步字段，立即完成", "fields", len(partial))
		safeCall(l, onComplete, partial)
		return ""
	}

	if b.execs == nil || b.obs == nil || !b.obs.Active() {
		l.Warn("网络观察不可用，跳过需要异步字段的规则")
		return ""
	}

	// 4. 开启执行，必需字段即异步映射字段
	required := make([]string, 0, len(compiled.Mappings))
	for _, m := range compiled.Mappings {
		required = append(required, m.Field)
	}
	merge := func(collected domain.Record) {
		out := partial.Clone()
		for k, v := range collected {
			out[k] = v
		}
		safeCall(l, onComplete, out)
	}

	b.regMu.Lock()
	exec := b.execs.CreateContext(rule.ID, required, trig, merge)
	b.obs.RegisterRule(rule)
	b.regMu.Unlock()

	for k, v := range partial {
		b.execs.CollectField(exec.ID, k, v)
	}
	b.scheduleIdentityFallback(exec, required)

	l.Debug("已开启执行，等待网络数据", "executionId", string(exec.ID), "required", required)
	return exec.ID
}

// ExecutionRemoved 执行移出活动集合时由管理器回调；规则不再有执行时注销
func (b *Builder) ExecutionRemoved(ruleID domain.RuleID) {
	if b.execs == nil || b.obs == nil {
		return
	}
	b.regMu.Lock()
	defer b.regMu.Unlock()
	if b.execs.Count(ruleID) == 0 {
		b.obs.UnregisterRule(ruleID)
	}
}

// resolvePartial 以插件提供的字面字段为底，同步映射取到值时覆盖
func (b *Builder) resolvePartial(ctx context.Context, mappings []domain.FieldMapping, trig *domain.TriggerContext, l logger.Logger) domain.Record {
	partial := make(domain.Record, len(mappings)+len(trig.Fields)+1)
	for k, v := range trig.Fields {
		if k != "" && v != nil {
			partial[k] = v
		}
	}
	b.applyIdentity(ctx, trig, partial)
	for _, m := range mappings {
		v, ok := b.resolveSync(ctx, m, trig)
		if !ok {
			l.Debug("同步字段未取到值", "field", m.Field, "source", string(m.Source))
			continue
		}
		partial[m.Field] = v
	}
	return partial
}

// applyIdentity 写入已知身份；未知时写入匿名ID
func (b *Builder) applyIdentity(ctx context.Context, trig *domain.TriggerContext, rec domain.Record) {
	d := b.identity
	if !d.Enabled() {
		return
	}
	if u, ok := b.idCache.User(ctx); ok {
		rec[d.Field] = u
		return
	}
	if !d.Source.IsAsync() {
		m := domain.FieldMapping{Field: d.Field, Source: d.Source, Config: d.Config}
		if v, ok := b.resolveSync(ctx, m, trig); ok {
			if s, isStr := v.(string); !isStr || !identity.IsSentinel(s) {
				rec[d.Field] = v
				return
			}
		}
	}
	rec[d.AnonymousField] = b.idCache.AnonymousID(ctx)
}

// scheduleIdentityFallback 规则需要网络来源的身份字段时，匹配窗口结束仍未到达则改用匿名ID
func (b *Builder) scheduleIdentityFallback(exec execution.Execution, required []string) {
	d := b.identity
	if !d.Enabled() {
		return
	}
	needs := false
	for _, f := range required {
		if f == d.Field {
			needs = true
			break
		}
	}
	if !needs {
		return
	}
	id := exec.ID
	wait := b.execs.MatchWindow() - b.execs.Clock().Since(exec.TriggeredAt)
	b.execs.Clock().AfterFunc(wait, func() {
		cur, ok := b.execs.Get(id)
		if !ok || cur.Status != domain.StatusPending {
			return
		}
		if _, has := cur.CollectedFields[d.Field]; has {
			return
		}
		ctx := context.WithValue(context.Background(), ctxkeys.TraceIDKey{}, string(id))
		b.execs.CollectField(id, d.AnonymousField, b.idCache.AnonymousID(ctx))
		if b.execs.ReplaceRequiredField(id, d.Field, d.AnonymousField) {
			b.log.Info("身份字段未到达，改用匿名ID", "executionId", string(id), "field", d.Field)
		}
	})
}

func safeCall(l logger.Logger, cb domain.CompleteFunc, rec domain.Record) {
	if cb == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			l.Error("完成回调异常", "panic", p)
		}
	}()
	cb(rec)
}
