package storage

import (
	"context"
	"errors"
	"time"

	"eventcorr/internal/ctxkeys"
	"eventcorr/internal/logger"

	gormlogger "gorm.io/gorm/logger"
)

const slowQuery = 200 * time.Millisecond

// dbLogger 把 GORM 的日志转到项目日志，附带触发/执行的 traceId
type dbLogger struct {
	log   logger.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func newDBLogger(l logger.Logger, level gormlogger.LogLevel) *dbLogger {
	return &dbLogger{log: l.With("component", "sqlite"), level: level, slow: slowQuery}
}

func (d *dbLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *d
	cp.level = level
	return &cp
}

func (d *dbLogger) Info(ctx context.Context, msg string, data ...any) {
	if d.level >= gormlogger.Info {
		d.log.Info(msg, "traceId", traceID(ctx), "data", data)
	}
}

func (d *dbLogger) Warn(ctx context.Context, msg string, data ...any) {
	if d.level >= gormlogger.Warn {
		d.log.Warn(msg, "traceId", traceID(ctx), "data", data)
	}
}

func (d *dbLogger) Error(ctx context.Context, msg string, data ...any) {
	if d.level >= gormlogger.Error {
		d.log.Error(msg, "traceId", traceID(ctx), "data", data)
	}
}

// Trace 记录存储读写；查无记录属于正常未命中，不按错误记录
func (d *dbLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if d.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	if err != nil && errors.Is(err, gormlogger.ErrRecordNotFound) {
		err = nil
	}
	if err == nil && elapsed <= d.slow && d.level < gormlogger.Info {
		return
	}

	sql, rows := fc()
	kv := []any{"traceId", traceID(ctx), "sql", sql, "rows", rows, "elapsed", elapsed}
	switch {
	case err != nil && d.level >= gormlogger.Error:
		d.log.Err(err, "KV 存储操作失败", kv...)
	case elapsed > d.slow && d.level >= gormlogger.Warn:
		d.log.Warn("KV 存储操作缓慢", append(kv, "threshold", d.slow)...)
	case d.level >= gormlogger.Info:
		d.log.Debug("KV 存储操作", kv...)
	}
}

func traceID(ctx context.Context) any {
	if ctx == nil {
		return nil
	}
	return ctx.Value(ctxkeys.TraceIDKey{})
}
