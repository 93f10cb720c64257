// Package identity 管理用户身份缓存与匿名ID。
// 身份只升级不降级：一旦缓存了真实身份，占位/访客/匿名值不会覆盖它。
package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"eventcorr/internal/store"

	"github.com/google/uuid"
)

const (
	DefaultUserKey      = "eventcorr.user_id"
	DefaultAnonymousKey = "eventcorr.anonymous_id"
)

var sentinels = map[string]struct{}{
	"":          {},
	"0":         {},
	"-1":        {},
	"guest":     {},
	"anonymous": {},
	"anon":      {},
	"null":      {},
	"undefined": {},
	"none":      {},
}

// IsSentinel 值是否为占位/访客/匿名标记
func IsSentinel(v string) bool {
	_, ok := sentinels[strings.ToLower(strings.TrimSpace(v))]
	return ok
}

// Cache 身份缓存，读写都经过这里
type Cache struct {
	kv           store.KV
	userKey      string
	anonymousKey string
	mu           sync.Mutex
}

// NewCache 创建身份缓存
func NewCache(kv store.KV) *Cache {
	if kv == nil {
		kv = store.NewMemory()
	}
	return &Cache{kv: kv, userKey: DefaultUserKey, anonymousKey: DefaultAnonymousKey}
}

// User 返回已缓存的真实身份
func (c *Cache) User(ctx context.Context) (string, bool) {
	v, ok := store.Lookup(ctx, c.kv, c.userKey)
	if !ok || IsSentinel(v) {
		return "", false
	}
	return v, true
}

// HasUser 是否已缓存真实身份
func (c *Cache) HasUser(ctx context.Context) bool {
	_, ok := c.User(ctx)
	return ok
}

// SetUser 缓存身份；标记值被跳过，返回是否写入
func (c *Cache) SetUser(ctx context.Context, v any) (bool, error) {
	s := stringify(v)
	if IsSentinel(s) {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := store.Lookup(ctx, c.kv, c.userKey); ok && cur == s {
		return false, nil
	}
	if err := c.kv.Set(ctx, c.userKey, s); err != nil {
		return false, fmt.Errorf("cache user identity: %w", err)
	}
	return true, nil
}

// ClearUser 清除真实身份（如登出）
func (c *Cache) ClearUser(ctx context.Context) error {
	return c.kv.Delete(ctx, c.userKey)
}

// AnonymousID 返回匿名ID，不存在时生成并持久化
func (c *Cache) AnonymousID(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := store.Lookup(ctx, c.kv, c.anonymousKey); ok && v != "" {
		return v
	}
	id := uuid.NewString()
	_ = c.kv.Set(ctx, c.anonymousKey, id)
	return id
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		if float64(int64(x)) == x {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%v", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
