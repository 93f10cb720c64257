package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"eventcorr/internal/cdp"
	"eventcorr/internal/observer"
	"eventcorr/pkg/api"
	"eventcorr/pkg/domain"
	"eventcorr/pkg/traffic"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// ReplayOptions replay 命令参数
type ReplayOptions struct {
	*RootOptions
	Input string
	Speed float64
}

// ReplayLine 回放文件中的一行，at 为相对回放开始的毫秒数
type ReplayLine struct {
	At      int64               `json:"at"`
	Kind    string              `json:"kind"` // trigger | tx
	Trigger *cdp.TriggerPayload `json:"trigger,omitempty"`
	Tx      *ReplayTx           `json:"tx,omitempty"`
}

// ReplayTx 回放的网络事务
type ReplayTx struct {
	Method       string `json:"method"`
	URL          string `json:"url"`
	Status       int    `json:"status"`
	RequestBody  string `json:"requestBody"`
	ResponseBody string `json:"responseBody"`
}

// ReplaySummary 回放结果
type ReplaySummary struct {
	Lines   int       `json:"lines"`
	Records int       `json:"records"`
	Stats   api.Stats `json:"stats"`
}

// NewReplayCommand 创建 replay 命令
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded triggers and transactions through the engine",
		Long: `Replay a JSONL recording of triggers and network transactions with their
original relative timing. Finished records are printed to stdout, one JSON
payload per line, followed by a summary on stderr.

Examples:
  eventcorr replay --config eventcorr.yaml --input session.jsonl
  eventcorr replay -c eventcorr.yaml -i session.jsonl --speed 10 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "JSONL recording (- for stdin)")
	_ = cmd.MarkFlagRequired("input")
	cmd.Flags().Float64Var(&opts.Speed, "speed", 1, "playback speed multiplier")
	return cmd
}

// ParseReplay 读取 JSONL 回放，空行被跳过
func ParseReplay(r io.Reader) ([]ReplayLine, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 8<<20)
	var lines []ReplayLine
	n := 0
	for sc.Scan() {
		n++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ln ReplayLine
		if err := json.Unmarshal(raw, &ln); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		switch {
		case ln.Kind == "trigger" && ln.Trigger != nil:
		case ln.Kind == "tx" && ln.Tx != nil:
		default:
			return nil, fmt.Errorf("line %d: unsupported entry kind %q", n, ln.Kind)
		}
		lines = append(lines, ln)
	}
	return lines, sc.Err()
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	var in io.Reader = cmd.InOrStdin()
	if opts.Input != "-" {
		f, err := os.Open(opts.Input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	lines, err := ParseReplay(in)
	if err != nil {
		return err
	}
	speed := opts.Speed
	if speed <= 0 {
		speed = 1
	}

	l := newLogger(cfg)
	hook := observer.NewManualHook()
	eng, err := api.New(cfg, api.Options{Hooks: []observer.Hook{hook}, Logger: l})
	if err != nil {
		return err
	}
	defer func() { _ = eng.Stop() }()
	if err := eng.Start(); err != nil {
		return err
	}

	w := &payloadWriter{out: cmd.OutOrStdout(), log: l}
	start := time.Now()
	for _, ln := range lines {
		due := start.Add(time.Duration(float64(ln.At)/speed) * time.Millisecond)
		if d := time.Until(due); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		switch ln.Kind {
		case "trigger":
			replayTrigger(ctx, eng, w, ln.Trigger)
		case "tx":
			hook.Emit(ln.Tx.intercepted())
		}
	}

	settle(ctx, eng, cfg.Engine.MaxWait())
	sum := ReplaySummary{Lines: len(lines), Records: w.count(), Stats: eng.Stats()}
	return writeSummary(cmd.ErrOrStderr(), opts.Format, sum)
}

func replayTrigger(ctx context.Context, eng api.Engine, w *payloadWriter, p *cdp.TriggerPayload) {
	rule, ok := findRule(eng.Rules(), p.RuleID)
	if !ok {
		return
	}
	trig, err := p.Context()
	if err != nil {
		return
	}
	eng.HandleTrigger(ctx, rule, trig, w.complete(rule, trig.EventKind))
}

func (t *ReplayTx) intercepted() *traffic.InterceptedRequest {
	tx := traffic.NewInterceptedRequest(t.Method, t.URL, time.Now())
	tx.ID = uuid.NewString()
	tx.StatusCode = t.Status
	if t.RequestBody != "" {
		tx.RequestBody = []byte(t.RequestBody)
	}
	if t.ResponseBody != "" {
		tx.ResponseBody = []byte(t.ResponseBody)
	}
	return tx
}

// settle 等待所有 pending 执行完成或过期
func settle(ctx context.Context, eng api.Engine, maxWait time.Duration) {
	deadline := time.After(maxWait + 100*time.Millisecond)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for eng.Stats().Pending > 0 {
		select {
		case <-tick.C:
		case <-deadline:
			return
		case <-ctx.Done():
			return
		}
	}
}

func writeSummary(w io.Writer, format string, sum ReplaySummary) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(sum)
	}
	_, err := fmt.Fprintf(w, "replayed %d lines: %d records, %d completed, %d expired\n",
		sum.Lines, sum.Records, sum.Stats.Completed, sum.Stats.Expired)
	return err
}

func findRule(rules []domain.Rule, id domain.RuleID) (domain.Rule, bool) {
	for _, r := range rules {
		if r.ID == id {
			return r, true
		}
	}
	return domain.Rule{}, false
}
