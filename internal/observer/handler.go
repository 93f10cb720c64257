package observer

import (
	"context"
	"strings"

	"eventcorr/internal/ctxkeys"
	"eventcorr/internal/extract"
	"eventcorr/internal/pattern"
	"eventcorr/internal/rules"
	"eventcorr/pkg/domain"
	"eventcorr/pkg/traffic"
)

// HandleTransaction 处理一次观察到的网络事务，只读不改任何业务数据
func (o *Observer) HandleTransaction(tx *traffic.InterceptedRequest) {
	if tx == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			o.log.Error("处理网络事务异常", "url", tx.URL, "panic", p)
		}
	}()

	// 1. 身份缓存，与事件追踪无关
	o.cacheIdentity(tx)

	// 2. 没有登记规则时无事可做
	if o.registry.Len() == 0 || o.execs == nil {
		return
	}

	// 3. 解析消息体之前先按方法与字面段预过滤
	candidates := o.registry.Candidates(tx.Method, tx.URL)
	if len(candidates) == 0 {
		return
	}

	for _, reg := range candidates {
		o.correlate(reg, tx)
	}
}

// correlate 将事务中的值推送给该规则匹配窗口内的唯一执行
func (o *Observer) correlate(reg *rules.Registered, tx *traffic.InterceptedRequest) {
	mappings := reg.Matching(tx.Method, tx.URL)
	fields := make([]string, 0, len(mappings))
	for _, m := range mappings {
		fields = append(fields, m.Field)
	}

	// 4. 无匹配执行是常见情况；优先交给仍缺这些字段的执行
	exec, ok := o.execs.FindMatchingContext(reg.Rule.ID, tx.Timestamp, fields...)
	if !ok {
		o.sendEvent(Event{Type: "unmatched", Rule: reg.Rule.ID, URL: tx.URL, Method: tx.Method})
		return
	}

	// 5. 逐个异步映射取值，缺失或 null 静默跳过
	var collected []string
	for _, m := range mappings {
		v, ok := Value(m.Source, m.Config, tx)
		if !ok {
			o.log.Debug("未取到字段值", "rule", string(reg.Rule.ID), "field", m.Field, "url", tx.URL)
			continue
		}
		if o.execs.CollectField(exec.ID, m.Field, v) {
			collected = append(collected, m.Field)
		}
	}
	if len(collected) > 0 {
		o.log.Debug("网络事务关联成功", "rule", string(reg.Rule.ID), "executionId", string(exec.ID), "fields", collected, "url", tx.URL)
		o.sendEvent(Event{Type: "collected", Rule: reg.Rule.ID, ExecutionID: exec.ID, URL: tx.URL, Method: tx.Method, Fields: collected})
	}
}

// cacheIdentity 身份来自网络且尚未缓存时，从匹配的事务中提取并缓存
func (o *Observer) cacheIdentity(tx *traffic.InterceptedRequest) {
	desc, cache := o.identityConfig()
	if !desc.NetworkSourced() || cache == nil {
		return
	}
	ctx := context.WithValue(context.Background(), ctxkeys.TraceIDKey{}, tx.ID)
	if cache.HasUser(ctx) {
		return
	}
	if desc.Config.Method != "" && !strings.EqualFold(desc.Config.Method, tx.Method) {
		return
	}
	if !pattern.Match(tx.URL, desc.Config.Pattern) {
		return
	}
	v, ok := Value(desc.Source, desc.Config, tx)
	if !ok {
		return
	}
	wrote, err := cache.SetUser(ctx, v)
	if err != nil {
		o.log.Err(err, "缓存用户身份失败", "url", tx.URL)
		return
	}
	if wrote {
		o.log.Info("已缓存用户身份", "field", desc.Field, "url", tx.URL)
		o.sendEvent(Event{Type: "identity", URL: tx.URL, Method: tx.Method, Fields: []string{desc.Field}})
	}
}

// Value 按来源从事务取值。声明为请求体但方法不带请求体时改读响应体
func Value(source domain.SourceKind, cfg domain.MappingConfig, tx *traffic.InterceptedRequest) (any, bool) {
	switch source {
	case domain.SourceRequestURL:
		return extract.FromURL(tx.URL, cfg)
	case domain.SourceRequestBody:
		if !traffic.MethodHasBody(tx.Method) {
			return extract.FromBody(tx.ResponseBody, cfg.Path)
		}
		return extract.FromBody(tx.RequestBody, cfg.Path)
	case domain.SourceResponseBody:
		return extract.FromBody(tx.ResponseBody, cfg.Path)
	}
	return nil, false
}
