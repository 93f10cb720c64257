package execution

import (
	"sort"
	"time"

	"eventcorr/pkg/domain"

	"github.com/jonboulle/clockwork"
)

// Execution 执行的只读快照
type Execution struct {
	ID              domain.ExecutionID
	RuleID          domain.RuleID
	TriggeredAt     time.Time
	Status          domain.Status
	RequiredFields  []string
	CollectedFields domain.Record
	Trigger         *domain.TriggerContext
}

// Missing 返回尚未收集的必需字段
func (e Execution) Missing() []string {
	var out []string
	for _, f := range e.RequiredFields {
		if _, ok := e.CollectedFields[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// record 单次触发的关联状态，只在 Manager 锁内修改
type record struct {
	id          domain.ExecutionID
	ruleID      domain.RuleID
	seq         uint64
	triggeredAt time.Time
	status      domain.Status
	required    map[string]struct{}
	collected   domain.Record
	trigger     *domain.TriggerContext
	onComplete  domain.CompleteFunc
	timer       clockwork.Timer
}

func (r *record) pending() bool { return r.status == domain.StatusPending }

func (r *record) complete() bool {
	for f := range r.required {
		if _, ok := r.collected[f]; !ok {
			return false
		}
	}
	return true
}

// needsAny 是否仍缺少 fields 中任一必需字段；fields 为空时视为需要
func (r *record) needsAny(fields []string) bool {
	if len(fields) == 0 {
		return true
	}
	for _, f := range fields {
		if _, req := r.required[f]; !req {
			continue
		}
		if _, got := r.collected[f]; !got {
			return true
		}
	}
	return false
}

func (r *record) within(ts time.Time, window time.Duration) bool {
	return !ts.Before(r.triggeredAt) && !ts.After(r.triggeredAt.Add(window))
}

func (r *record) snapshot() Execution {
	req := make([]string, 0, len(r.required))
	for f := range r.required {
		req = append(req, f)
	}
	sort.Strings(req)
	return Execution{
		ID:              r.id,
		RuleID:          r.ruleID,
		TriggeredAt:     r.triggeredAt,
		Status:          r.status,
		RequiredFields:  req,
		CollectedFields: r.collected.Clone(),
		Trigger:         r.trigger,
	}
}
