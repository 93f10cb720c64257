package ctxkeys

// TraceIDKey 上下文中的追踪ID键，取值为触发ID或执行ID
type TraceIDKey struct{}
