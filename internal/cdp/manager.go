// Package cdp 通过 Chrome DevTools 协议观察页面发出的网络事务（覆盖 fetch 与 XHR），
// 对请求与响应一律原样放行，并提供页面侧触发插件上报触发的绑定通道。
package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"eventcorr/internal/logger"
	"eventcorr/internal/observer"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/rpcc"
)

var (
	ErrNotAttached = errors.New("not attached to a devtools target")
	ErrNoTarget    = errors.New("no matching devtools target")
)

const defaultProcessTimeout = 3 * time.Second

// Config CDP 钩子配置
type Config struct {
	DevToolsURL      string
	Target           string // 目标ID，空表示第一个页面
	MaxBodyBytes     int
	ProcessTimeoutMS int
	Logger           logger.Logger
}

// Manager 连接单个 DevTools 目标，实现 observer.Hook
type Manager struct {
	devtoolsURL    string
	target         string
	maxBody        int
	processTimeout time.Duration
	log            logger.Logger

	mu      sync.Mutex
	conn    *rpcc.Conn
	client  *cdp.Client
	ctx     context.Context
	cancel  context.CancelFunc
	onTx    observer.TransactionFunc
	started map[fetch.RequestID]time.Time
	wg      sync.WaitGroup
}

// New 创建 CDP 钩子
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	to := time.Duration(cfg.ProcessTimeoutMS) * time.Millisecond
	if to <= 0 {
		to = defaultProcessTimeout
	}
	return &Manager{
		devtoolsURL:    cfg.DevToolsURL,
		target:         cfg.Target,
		maxBody:        cfg.MaxBodyBytes,
		processTimeout: to,
		log:            cfg.Logger,
		started:        make(map[fetch.RequestID]time.Time),
	}
}

// Name 钩子名称
func (m *Manager) Name() string { return "cdp" }

// Attach 连接到 DevTools 目标，已连接时直接返回
func (m *Manager) Attach(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return nil
	}
	dt := devtool.New(m.devtoolsURL)
	targets, err := dt.List(ctx)
	if err != nil {
		return fmt.Errorf("list devtools targets: %w", err)
	}
	var sel *devtool.Target
	for i := range targets {
		t := targets[i]
		if m.target != "" {
			if t.ID == m.target {
				sel = t
				break
			}
			continue
		}
		if t.Type == devtool.Page {
			sel = t
			break
		}
	}
	if sel == nil {
		return ErrNoTarget
	}

	cctx, cancel := context.WithCancel(context.Background())
	conn, err := rpcc.DialContext(cctx, sel.WebSocketDebuggerURL)
	if err != nil {
		cancel()
		return fmt.Errorf("dial devtools target %s: %w", sel.ID, err)
	}
	m.conn = conn
	m.client = cdp.NewClient(conn)
	m.ctx = cctx
	m.cancel = cancel
	m.log.Info("已连接 DevTools 目标", "target", sel.ID, "url", sel.URL)
	return nil
}

// Install 启用 Fetch 拦截并开始消费事件
func (m *Manager) Install(fn observer.TransactionFunc) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Attach(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	client, cctx := m.client, m.ctx
	m.onTx = fn
	m.mu.Unlock()

	p := "*"
	patterns := []fetch.RequestPattern{
		{URLPattern: &p, RequestStage: fetch.RequestStageRequest},
		{URLPattern: &p, RequestStage: fetch.RequestStageResponse},
	}
	// 先订阅再启用，避免丢失最早的暂停事件
	rp, err := client.Fetch.RequestPaused(cctx)
	if err != nil {
		return fmt.Errorf("subscribe requestPaused: %w", err)
	}
	if err := client.Fetch.Enable(cctx, &fetch.EnableArgs{Patterns: patterns}); err != nil {
		rp.Close()
		return fmt.Errorf("enable fetch: %w", err)
	}
	m.wg.Add(1)
	go m.consume(rp)
	return nil
}

// Restore 关闭拦截并断开连接
func (m *Manager) Restore() error {
	m.mu.Lock()
	client, cctx, cancel, conn := m.client, m.ctx, m.cancel, m.conn
	m.client, m.conn, m.onTx = nil, nil, nil
	m.mu.Unlock()
	if client == nil {
		return observer.ErrNotInstalled
	}

	ctx, done := context.WithTimeout(cctx, time.Second)
	err := client.Fetch.Disable(ctx)
	done()
	cancel()
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	m.wg.Wait()
	m.log.Info("已断开 DevTools 目标")
	return err
}

// Client 返回底层 CDP 客户端，未连接时返回 nil
func (m *Manager) Client() *cdp.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

func (m *Manager) callback() observer.TransactionFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onTx
}
