package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"eventcorr/internal/dom"
	"eventcorr/pkg/domain"

	"github.com/mafredri/cdp/protocol/runtime"
)

const DefaultBinding = "__eventcorrTrigger"

// TriggerPayload 页面侧触发插件通过绑定上报的触发
type TriggerPayload struct {
	RuleID    domain.RuleID  `json:"ruleId"`
	EventKind string         `json:"eventKind"`
	HTML      string         `json:"html"`   // 容器（通常为表单）的 outerHTML
	Target    string         `json:"target"` // 触发元素在 HTML 内的选择器
	Cookie    string         `json:"cookie"` // document.cookie
	Fields    map[string]any `json:"fields"`
	At        int64          `json:"at"` // 毫秒时间戳
}

// Context 将上报内容还原为触发上下文
func (p TriggerPayload) Context() (*domain.TriggerContext, error) {
	trig := &domain.TriggerContext{
		EventKind: p.EventKind,
		Cookies:   domain.ParseCookieHeader(p.Cookie),
		Fields:    p.Fields,
	}
	if p.At > 0 {
		trig.At = time.UnixMilli(p.At)
	}
	if p.HTML == "" {
		return trig, nil
	}
	doc, err := dom.ParseString(p.HTML)
	if err != nil {
		return nil, fmt.Errorf("parse trigger html: %w", err)
	}
	trig.Document = doc
	el := doc
	if p.Target != "" {
		if found := doc.Find(p.Target); found != nil {
			el = found
		}
	}
	trig.Element = el
	if form := el.Closest("form"); form != nil {
		trig.Container = form
	}
	return trig, nil
}

// Triggers 注册页面绑定并返回触发流，ctx 取消后通道关闭
func (m *Manager) Triggers(ctx context.Context, name string) (<-chan TriggerPayload, error) {
	if name == "" {
		name = DefaultBinding
	}
	if err := m.Attach(ctx); err != nil {
		return nil, err
	}
	client := m.Client()
	if client == nil {
		return nil, ErrNotAttached
	}
	calls, err := client.Runtime.BindingCalled(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe bindingCalled: %w", err)
	}
	if err := client.Runtime.Enable(ctx); err != nil {
		calls.Close()
		return nil, fmt.Errorf("enable runtime: %w", err)
	}
	if err := client.Runtime.AddBinding(ctx, runtime.NewAddBindingArgs(name)); err != nil {
		calls.Close()
		return nil, fmt.Errorf("add binding %s: %w", name, err)
	}

	out := make(chan TriggerPayload, 16)
	go func() {
		defer close(out)
		defer calls.Close()
		for {
			ev, err := calls.Recv()
			if err != nil {
				return
			}
			if ev.Name != name {
				continue
			}
			var p TriggerPayload
			if err := json.Unmarshal([]byte(ev.Payload), &p); err != nil {
				m.log.Warn("触发上报格式错误", "error", err)
				continue
			}
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		}
	}()
	m.log.Info("已注册触发绑定", "binding", name)
	return out, nil
}
