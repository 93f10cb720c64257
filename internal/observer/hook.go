package observer

import (
	"errors"
	"sync"

	"eventcorr/pkg/traffic"
)

// TransactionFunc 每观察到一次网络事务调用一次
type TransactionFunc func(*traffic.InterceptedRequest)

// Hook 网络传输钩子：安装后对宿主的请求透明旁路观察，恢复后不再回调。
// 实现不得改变请求/响应的返回值、时序与流式行为
type Hook interface {
	Name() string
	Install(onTransaction TransactionFunc) error
	Restore() error
}

// ErrNotInstalled 钩子未安装
var ErrNotInstalled = errors.New("hook not installed")

// ManualHook 直接合成事务的钩子，用于测试与回放
type ManualHook struct {
	// InstallErr 非空时 Install 失败，用于模拟无法安装钩子
	InstallErr error

	mu sync.RWMutex
	fn TransactionFunc
}

// NewManualHook 创建手动钩子
func NewManualHook() *ManualHook { return &ManualHook{} }

// Name 钩子名称
func (h *ManualHook) Name() string { return "manual" }

// Install 安装回调
func (h *ManualHook) Install(fn TransactionFunc) error {
	if h.InstallErr != nil {
		return h.InstallErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fn = fn
	return nil
}

// Restore 移除回调
func (h *ManualHook) Restore() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fn == nil {
		return ErrNotInstalled
	}
	h.fn = nil
	return nil
}

// Emit 投递一个合成事务，返回是否已安装
func (h *ManualHook) Emit(tx *traffic.InterceptedRequest) bool {
	h.mu.RLock()
	fn := h.fn
	h.mu.RUnlock()
	if fn == nil {
		return false
	}
	fn(tx)
	return true
}
