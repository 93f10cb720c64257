package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"eventcorr/internal/cdp"
	"eventcorr/internal/observer"
	"eventcorr/pkg/api"

	"github.com/spf13/cobra"
)

// WatchOptions watch 命令参数
type WatchOptions struct {
	*RootOptions
	DevToolsURL string
	Target      string
	Binding     string
}

// NewWatchCommand 创建 watch 命令
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Attach to a Chrome tab and print finished event payloads",
		Long: `Attach to a Chrome DevTools target, observe its network traffic and receive
triggers from the page-side plugin through a runtime binding. Every finished
record is printed to stdout as one JSON payload per line.

Examples:
  eventcorr watch --config eventcorr.yaml
  eventcorr watch --devtools http://127.0.0.1:9222 --target <id>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DevToolsURL, "devtools", "", "DevTools HTTP endpoint (overrides config)")
	cmd.Flags().StringVar(&opts.Target, "target", "", "DevTools target id, default first page")
	cmd.Flags().StringVar(&opts.Binding, "binding", "", "runtime binding name for triggers")
	return cmd
}

func runWatch(ctx context.Context, opts *WatchOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.DevToolsURL != "" {
		cfg.CDP.DevToolsURL = opts.DevToolsURL
	}
	if opts.Target != "" {
		cfg.CDP.Target = opts.Target
	}
	if opts.Binding != "" {
		cfg.CDP.Binding = opts.Binding
	}
	l := newLogger(cfg)

	browser := cdp.New(cdp.Config{
		DevToolsURL:  cfg.CDP.DevToolsURL,
		Target:       cfg.CDP.Target,
		MaxBodyBytes: cfg.Engine.MaxBodyBytes,
		Logger:       l,
	})
	eng, err := api.New(cfg, api.Options{Hooks: []observer.Hook{browser}, Logger: l})
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Stop(); err != nil {
			l.Err(err, "停止引擎失败")
		}
	}()
	if err := eng.Start(); err != nil {
		return err
	}

	triggers, err := browser.Triggers(ctx, cfg.CDP.Binding)
	if err != nil {
		return fmt.Errorf("attach trigger binding: %w", err)
	}
	w := &payloadWriter{out: cmd.OutOrStdout(), log: l}
	l.Info("开始监听触发", "rules", len(eng.Rules()))

	for {
		select {
		case <-ctx.Done():
			l.Info("停止监听", "records", w.count())
			return nil
		case p, ok := <-triggers:
			if !ok {
				return errors.New("trigger stream closed")
			}
			trig, err := p.Context()
			if err != nil {
				l.Warn("触发上下文无效", "rule", string(p.RuleID), "error", err.Error())
				continue
			}
			rule, found := findRule(eng.Rules(), p.RuleID)
			if !found {
				l.Warn("未知规则的触发", "rule", string(p.RuleID))
				continue
			}
			eng.HandleTrigger(ctx, rule, trig, w.complete(rule, trig.EventKind))
		}
	}
}
