// Package store 定义键值存储能力，引擎通过它读写持久化值与身份缓存。
package store

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound 键不存在
var ErrNotFound = errors.New("key not found")

// KV 键值存储能力
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Memory 进程内存储，用于会话级存储与测试
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory 创建内存存储
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

// Get 读取键值
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set 写入键值
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Delete 删除键，不存在时不报错
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Lookup 读取并吞掉 ErrNotFound，便于只关心命中与否的调用方
func Lookup(ctx context.Context, kv KV, key string) (string, bool) {
	if kv == nil || key == "" {
		return "", false
	}
	v, err := kv.Get(ctx, key)
	if err != nil {
		return "", false
	}
	return v, true
}
