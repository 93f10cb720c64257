package orchestrator

import (
	"context"
	"strings"

	"eventcorr/internal/extract"
	"eventcorr/internal/store"
	"eventcorr/pkg/domain"
)

// resolveSync 立即解析同步映射，取不到值时返回 ok=false
func (b *Builder) resolveSync(ctx context.Context, m domain.FieldMapping, trig *domain.TriggerContext) (any, bool) {
	switch m.Source {
	case domain.SourceElement:
		return resolveElement(m.Config, trig)
	case domain.SourceCookie:
		return resolveCookie(m.Config, trig)
	case domain.SourceLocalStorage:
		return resolveStored(ctx, b.local, m.Config)
	case domain.SourceSession:
		return resolveStored(ctx, b.session, m.Config)
	case domain.SourceStatic:
		return resolveStatic(m.Config)
	}
	return nil, false
}

// resolveElement 选择器为空时读触发元素本身；否则依次在容器（表单）、触发元素、文档中查找
func resolveElement(cfg domain.MappingConfig, trig *domain.TriggerContext) (any, bool) {
	if trig == nil {
		return nil, false
	}
	var el domain.Element
	if cfg.Selector == "" {
		el = trig.Element
	} else {
		for _, scope := range []domain.Element{trig.Container, trig.Element, trig.Document} {
			if scope == nil {
				continue
			}
			if found, ok := scope.Query(cfg.Selector); ok {
				el = found
				break
			}
		}
	}
	if el == nil {
		return nil, false
	}

	var v string
	switch strings.ToLower(cfg.Attribute) {
	case "", "text":
		v = el.Text()
	case "value":
		v = el.Value()
	default:
		v, _ = el.Attribute(cfg.Attribute)
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, false
	}
	return v, true
}

func resolveCookie(cfg domain.MappingConfig, trig *domain.TriggerContext) (any, bool) {
	if trig == nil || trig.Cookies == nil {
		return nil, false
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Key
	}
	if name == "" {
		return nil, false
	}
	v, ok := trig.Cookies.Cookie(name)
	if !ok || strings.TrimSpace(v) == "" {
		return nil, false
	}
	if cfg.Path != "" {
		return extract.FromString(v, cfg.Path)
	}
	return v, true
}

func resolveStored(ctx context.Context, kv store.KV, cfg domain.MappingConfig) (any, bool) {
	v, ok := store.Lookup(ctx, kv, cfg.Key)
	if !ok {
		return nil, false
	}
	return extract.FromString(v, cfg.Path)
}

func resolveStatic(cfg domain.MappingConfig) (any, bool) {
	switch v := cfg.Value.(type) {
	case nil:
		return nil, false
	case string:
		if v == "" {
			return nil, false
		}
	}
	return cfg.Value, true
}
