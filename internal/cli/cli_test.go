package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const replayConfig = `
sqlite:
  dsn: %DSN%
log:
  level: error
  writer: [console]
engine:
  matchWindowMS: 200
  maxWaitMS: 300
  cleanupGraceMS: 10
rules:
  - id: review
    eventKind: submit
    mappings:
      - field: ProductId
        source: element
        config: {selector: "[data-product-id]", attribute: data-product-id}
      - field: Rating
        source: request_body
        config: {method: POST, pattern: "/api/products/{id}/reviews", path: rating}
  - id: view
    eventKind: pageview
    mappings:
      - field: Page
        source: static
        config: {value: home}
`

const replayInput = `{"at":0,"kind":"trigger","trigger":{"ruleId":"review","eventKind":"submit","html":"<div data-product-id=\"p-3\"><form><button>Go</button></form></div>","target":"button"}}
{"at":20,"kind":"tx","tx":{"method":"POST","url":"https://shop.test/api/products/p-3/reviews","status":201,"requestBody":"{\"rating\":4}"}}

{"at":30,"kind":"trigger","trigger":{"ruleId":"review","eventKind":"submit","html":"<div data-product-id=\"p-4\"><form><button>Go</button></form></div>","target":"button"}}
{"at":40,"kind":"trigger","trigger":{"ruleId":"view","eventKind":"pageview"}}
`

func setup(t *testing.T) (cfgPath, inputPath string) {
	t.Helper()
	dir := t.TempDir()
	cfg := strings.ReplaceAll(replayConfig, "%DSN%", filepath.ToSlash(filepath.Join(dir, "ec.sqlite3")))
	cfgPath = filepath.Join(dir, "eventcorr.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	inputPath = filepath.Join(dir, "session.jsonl")
	require.NoError(t, os.WriteFile(inputPath, []byte(replayInput), 0o644))
	return cfgPath, inputPath
}

func TestParseReplay(t *testing.T) {
	lines, err := ParseReplay(strings.NewReader(replayInput))
	require.NoError(t, err)
	require.Len(t, lines, 4)
	assert.Equal(t, "tx", lines[1].Kind)
	assert.Equal(t, int64(20), lines[1].At)
	assert.Equal(t, `{"rating":4}`, lines[1].Tx.RequestBody)

	_, err = ParseReplay(strings.NewReader(`{"at":0,"kind":"bogus"}`))
	assert.Error(t, err)
	_, err = ParseReplay(strings.NewReader(`{not json`))
	assert.Error(t, err)
}

func TestReplayCommand(t *testing.T) {
	cfgPath, input := setup(t)
	var out, errb bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&errb)
	root.SetArgs([]string{"replay", "--config", cfgPath, "--input", input, "--speed", "2"})
	require.NoError(t, root.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	byRule := map[string]gjson.Result{}
	for _, ln := range lines {
		r := gjson.Parse(ln)
		byRule[r.Get("ruleId").String()] = r
	}
	review := byRule["review"]
	assert.Equal(t, "submit", review.Get("eventType").String())
	assert.Equal(t, "p-3", review.Get("fields.ProductId").String())
	assert.Equal(t, int64(4), review.Get("fields.Rating").Int())
	assert.Equal(t, "home", byRule["view"].Get("fields.Page").String())

	assert.Contains(t, errb.String(), "2 records, 1 completed, 1 expired")
}

func TestReplayJSONSummary(t *testing.T) {
	cfgPath, input := setup(t)
	var out, errb bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&errb)
	root.SetArgs([]string{"replay", "-c", cfgPath, "-i", input, "--speed", "4", "--format", "json"})
	require.NoError(t, root.Execute())

	sum := gjson.Parse(errb.String())
	assert.Equal(t, int64(4), sum.Get("lines").Int())
	assert.Equal(t, int64(2), sum.Get("stats.created").Int())
	assert.Equal(t, int64(1), sum.Get("stats.expired").Int())
}

func TestRootRejectsFormat(t *testing.T) {
	root := NewRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"version", "--format", "xml"})
	assert.Error(t, root.Execute())
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "eventcorr dev\n", out.String())
}
