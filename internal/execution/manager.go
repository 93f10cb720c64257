// Package execution 管理进行中的执行：每次触发一个执行，收集具名字段直到完整或超时。
// 状态只会从 pending 迁移一次到 completed 或 expired；所有变更方法先检查 pending。
package execution

import (
	"sync"
	"time"

	"eventcorr/internal/logger"
	"eventcorr/pkg/domain"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultMatchWindow  = 3 * time.Second
	DefaultMaxWait      = 10 * time.Second
	DefaultCleanupGrace = 5 * time.Second
)

// Config 管理器配置
type Config struct {
	MatchWindow  time.Duration // 触发后多长时间内的网络事务仍归因于该触发
	MaxWait      time.Duration // 执行的绝对存活时间
	CleanupGrace time.Duration // 终态后保留以便排查的时间
	Clock        clockwork.Clock
	Logger       logger.Logger
	// OnRemoved 执行被移出活动集合后回调，remaining 为该规则剩余的执行数
	OnRemoved func(ruleID domain.RuleID, remaining int)
}

// Stats 执行计数
type Stats struct {
	Active    int   `json:"active"`
	Pending   int   `json:"pending"`
	Created   int64 `json:"created"`
	Completed int64 `json:"completed"`
	Expired   int64 `json:"expired"`
}

// Manager 执行上下文管理器
type Manager struct {
	mu        sync.Mutex
	active    map[domain.ExecutionID]*record
	seq       uint64
	stats     Stats
	window    time.Duration
	maxWait   time.Duration
	grace     time.Duration
	clock     clockwork.Clock
	log       logger.Logger
	onRemoved func(domain.RuleID, int)
}

// New 创建执行管理器
func New(cfg Config) *Manager {
	if cfg.MatchWindow <= 0 {
		cfg.MatchWindow = DefaultMatchWindow
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.MaxWait < cfg.MatchWindow {
		cfg.MaxWait = cfg.MatchWindow
	}
	if cfg.CleanupGrace <= 0 {
		cfg.CleanupGrace = DefaultCleanupGrace
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Manager{
		active:    make(map[domain.ExecutionID]*record),
		window:    cfg.MatchWindow,
		maxWait:   cfg.MaxWait,
		grace:     cfg.CleanupGrace,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		onRemoved: cfg.OnRemoved,
	}
}

// MatchWindow 返回匹配窗口
func (m *Manager) MatchWindow() time.Duration { return m.window }

// Clock 返回管理器使用的时钟
func (m *Manager) Clock() clockwork.Clock { return m.clock }

// CreateContext 创建执行并启动最大等待计时器，起点见 startTime
func (m *Manager) CreateContext(ruleID domain.RuleID, requiredFields []string, trigger *domain.TriggerContext, onComplete domain.CompleteFunc) Execution {
	req := make(map[string]struct{}, len(requiredFields))
	for _, f := range requiredFields {
		if f != "" {
			req[f] = struct{}{}
		}
	}

	m.mu.Lock()
	m.seq++
	start := m.startTime(trigger)
	r := &record{
		id:          domain.ExecutionID(uuid.NewString()),
		ruleID:      ruleID,
		seq:         m.seq,
		triggeredAt: start,
		status:      domain.StatusPending,
		required:    req,
		collected:   make(domain.Record),
		trigger:     trigger,
		onComplete:  onComplete,
	}
	id := r.id
	r.timer = m.clock.AfterFunc(m.maxWait-m.clock.Since(start), func() { m.expire(id) })
	m.active[id] = r
	m.stats.Created++
	snap := r.snapshot()
	m.mu.Unlock()

	m.log.Debug("创建执行", "executionId", string(id), "rule", string(ruleID), "required", snap.RequiredFields)
	if len(req) == 0 {
		m.tryComplete(id)
		if cur, ok := m.Get(id); ok {
			return cur
		}
	}
	return snap
}

// startTime 触发方给出的时间在匹配窗口内且不晚于当前时间时作为执行起点，否则取当前时间
func (m *Manager) startTime(trigger *domain.TriggerContext) time.Time {
	now := m.clock.Now()
	if trigger == nil || trigger.At.IsZero() {
		return now
	}
	lag := now.Sub(trigger.At)
	if lag < 0 || lag > m.window {
		return now
	}
	return trigger.At
}

// CollectField 记录字段值；执行不存在或非 pending 时为空操作，同一字段先到先得
func (m *Manager) CollectField(id domain.ExecutionID, field string, value any) bool {
	m.mu.Lock()
	r, ok := m.active[id]
	if !ok || !r.pending() || field == "" {
		m.mu.Unlock()
		return false
	}
	if _, dup := r.collected[field]; dup {
		m.mu.Unlock()
		return false
	}
	r.collected[field] = value
	m.mu.Unlock()

	m.log.Debug("收集字段", "executionId", string(id), "field", field)
	m.tryComplete(id)
	return true
}

// ReplaceRequiredField 用新字段替换必需字段（如以匿名ID代替登录用户ID），仅 pending 时生效
func (m *Manager) ReplaceRequiredField(id domain.ExecutionID, oldField, newField string) bool {
	m.mu.Lock()
	r, ok := m.active[id]
	if !ok || !r.pending() || newField == "" {
		m.mu.Unlock()
		return false
	}
	if _, had := r.required[oldField]; !had {
		m.mu.Unlock()
		return false
	}
	delete(r.required, oldField)
	r.required[newField] = struct{}{}
	m.mu.Unlock()

	m.log.Debug("替换必需字段", "executionId", string(id), "old", oldField, "new", newField)
	m.tryComplete(id)
	return true
}

// FindMatchingContext 返回该规则下匹配窗口覆盖 ts 的 pending 执行。
// 给出 fields 时优先选择仍缺少其中任一字段的执行；同等条件下取触发时间最早者，同时刻按创建顺序
func (m *Manager) FindMatchingContext(ruleID domain.RuleID, ts time.Time, fields ...string) (Execution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *record
	bestNeeds := false
	for _, r := range m.active {
		if r.ruleID != ruleID || !r.pending() || !r.within(ts, m.window) {
			continue
		}
		needs := r.needsAny(fields)
		switch {
		case best == nil:
		case needs != bestNeeds:
			if !needs {
				continue
			}
		case r.triggeredAt.Before(best.triggeredAt),
			r.triggeredAt.Equal(best.triggeredAt) && r.seq < best.seq:
		default:
			continue
		}
		best, bestNeeds = r, needs
	}
	if best == nil {
		return Execution{}, false
	}
	return best.snapshot(), true
}

// Count 该规则在活动集合中的执行数（含宽限期内的终态执行）
func (m *Manager) Count(ruleID domain.RuleID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.active {
		if r.ruleID == ruleID {
			n++
		}
	}
	return n
}

// Get 返回执行快照（终态执行在宽限期内仍可查询）
func (m *Manager) Get(id domain.ExecutionID) (Execution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.active[id]
	if !ok {
		return Execution{}, false
	}
	return r.snapshot(), true
}

// Stats 返回计数
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Active = len(m.active)
	for _, r := range m.active {
		if r.pending() {
			s.Pending++
		}
	}
	return s
}

// CleanupContext 手动清理：pending 执行直接过期且不回调，随后立即移除
func (m *Manager) CleanupContext(id domain.ExecutionID) {
	m.mu.Lock()
	r, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if r.pending() {
		r.status = domain.StatusExpired
		m.stats.Expired++
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	m.mu.Unlock()

	m.log.Debug("手动清理执行", "executionId", string(id))
	m.remove(id)
}

// Close 停止所有计时器并清空活动集合，不触发任何回调
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.active {
		if r.timer != nil {
			r.timer.Stop()
		}
		delete(m.active, id)
	}
}

// tryComplete 所有必需字段齐全时完成执行并回调一次
func (m *Manager) tryComplete(id domain.ExecutionID) {
	m.mu.Lock()
	r, ok := m.active[id]
	if !ok || !r.pending() || !r.complete() {
		m.mu.Unlock()
		return
	}
	r.status = domain.StatusCompleted
	m.stats.Completed++
	if r.timer != nil {
		r.timer.Stop()
	}
	out := r.collected.Clone()
	cb := r.onComplete
	r.onComplete = nil
	r.timer = m.clock.AfterFunc(m.grace, func() { m.remove(id) })
	elapsed := m.clock.Since(r.triggeredAt)
	m.mu.Unlock()

	m.log.Info("执行完成", "executionId", string(id), "rule", string(r.ruleID), "fields", len(out), "elapsed", elapsed)
	m.invoke(id, cb, out)
}

// expire 最大等待到期仍为 pending 时过期，丢弃部分数据且不回调
func (m *Manager) expire(id domain.ExecutionID) {
	m.mu.Lock()
	r, ok := m.active[id]
	if !ok || !r.pending() {
		m.mu.Unlock()
		return
	}
	r.status = domain.StatusExpired
	m.stats.Expired++
	r.onComplete = nil
	missing := r.snapshot().Missing()
	r.timer = m.clock.AfterFunc(m.grace, func() { m.remove(id) })
	m.mu.Unlock()

	m.log.Info("执行超时过期", "executionId", string(id), "rule", string(r.ruleID), "missing", missing)
}

func (m *Manager) remove(id domain.ExecutionID) {
	m.mu.Lock()
	r, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.active, id)
	remaining := 0
	for _, other := range m.active {
		if other.ruleID == r.ruleID {
			remaining++
		}
	}
	cb := m.onRemoved
	m.mu.Unlock()

	if cb != nil {
		cb(r.ruleID, remaining)
	}
}

// invoke 回调中的 panic 不外泄
func (m *Manager) invoke(id domain.ExecutionID, cb domain.CompleteFunc, rec domain.Record) {
	if cb == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			m.log.Error("完成回调异常", "executionId", string(id), "panic", p)
		}
	}()
	cb(rec)
}
