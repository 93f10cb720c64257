// Package cli 实现 eventcorr 命令行
package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"eventcorr/internal/config"
	"eventcorr/internal/logger"
	"eventcorr/pkg/domain"

	"github.com/spf13/cobra"
)

// RootOptions 全局参数
type RootOptions struct {
	ConfigPath string
	Format     string // text | json
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand 创建根命令
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "eventcorr",
		Short: "Correlate page triggers with the network traffic they cause",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "summary format (json|text)")

	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewVersionCommand())
	return cmd
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	if opts.ConfigPath == "" {
		cfg := config.NewConfig()
		return cfg, cfg.Validate()
	}
	return config.Load(opts.ConfigPath)
}

func newLogger(cfg *config.Config) logger.Logger {
	return logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Writer:     cfg.Log.Writer,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}

// payloadWriter 串行写出完成记录，每行一个 JSON
type payloadWriter struct {
	mu  sync.Mutex
	out io.Writer
	log logger.Logger
	n   int
}

func (w *payloadWriter) complete(rule domain.Rule, eventKind string) domain.CompleteFunc {
	if eventKind == "" {
		eventKind = rule.EventKind
	}
	return func(rec domain.Record) {
		b, err := rec.Payload(rule.ID, eventKind, time.Now())
		if err != nil {
			w.log.Err(err, "生成事件负载失败", "rule", string(rule.ID))
			return
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		w.n++
		_, _ = fmt.Fprintln(w.out, string(b))
	}
}

func (w *payloadWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}
