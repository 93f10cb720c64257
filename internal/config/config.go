package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"eventcorr/pkg/domain"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMatchWindowMS  = 3000
	DefaultMaxWaitMS      = 10000
	DefaultCleanupGraceMS = 5000
	DefaultMaxBodyBytes   = 1 << 20
)

var ErrDuplicateRule = errors.New("duplicate rule id")

// Sqlite 本地持久化存储配置
type Sqlite struct {
	Dsn    string `yaml:"dsn"`
	Prefix string `yaml:"prefix"`
}

// Log 日志配置
type Log struct {
	Level      string   `yaml:"level"`
	Writer     []string `yaml:"writer"`
	File       string   `yaml:"file"`
	MaxSizeMB  int      `yaml:"maxSizeMB"`
	MaxBackups int      `yaml:"maxBackups"`
	MaxAgeDays int      `yaml:"maxAgeDays"`
}

// Engine 关联引擎配置
type Engine struct {
	MatchWindowMS  int `yaml:"matchWindowMS"`
	MaxWaitMS      int `yaml:"maxWaitMS"`
	CleanupGraceMS int `yaml:"cleanupGraceMS"`
	MaxBodyBytes   int `yaml:"maxBodyBytes"`
}

// CDP 浏览器钩子配置
type CDP struct {
	DevToolsURL string `yaml:"devToolsURL"`
	Target      string `yaml:"target"`
	Binding     string `yaml:"binding"`
}

// Config 配置文件结构体
type Config struct {
	Version   string                     `yaml:"version"`
	Sqlite    Sqlite                     `yaml:"sqlite"`
	Log       Log                        `yaml:"log"`
	Engine    Engine                     `yaml:"engine"`
	CDP       CDP                        `yaml:"cdp"`
	Identity  *domain.IdentityDescriptor `yaml:"identity"`
	Rules     []domain.Rule              `yaml:"rules"`
	RulesFile string                     `yaml:"rulesFile"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Sqlite: Sqlite{
			Dsn:    "eventcorr.sqlite3",
			Prefix: "eventcorr_",
		},
		Log: Log{
			Level:      "info",
			Writer:     []string{"console"},
			File:       "logs/eventcorr.log",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Engine: Engine{
			MatchWindowMS:  DefaultMatchWindowMS,
			MaxWaitMS:      DefaultMaxWaitMS,
			CleanupGraceMS: DefaultCleanupGraceMS,
			MaxBodyBytes:   DefaultMaxBodyBytes,
		},
		CDP: CDP{
			DevToolsURL: "http://127.0.0.1:9222",
		},
	}
}

// Load 读取 YAML 配置文件，未出现的字段保留默认值；rulesFile 相对配置文件所在目录解析
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.RulesFile != "" {
		rf := cfg.RulesFile
		if !filepath.IsAbs(rf) {
			rf = filepath.Join(filepath.Dir(path), rf)
		}
		rules, err := LoadRules(rf)
		if err != nil {
			return nil, err
		}
		cfg.Rules = append(cfg.Rules, rules...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRules 读取规则文件，.json 按 JSON 解析，其余按 YAML 解析
func LoadRules(path string) ([]domain.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var rules []domain.Rule
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &rules)
	} else {
		err = yaml.Unmarshal(data, &rules)
	}
	if err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return rules, nil
}

// Validate 修正越界的时长配置并检查规则ID唯一；非正的时长一律取默认值，与执行管理器的处理一致
func (c *Config) Validate() error {
	e := &c.Engine
	if e.MatchWindowMS <= 0 {
		e.MatchWindowMS = DefaultMatchWindowMS
	}
	if e.MaxWaitMS <= 0 {
		e.MaxWaitMS = DefaultMaxWaitMS
	}
	if e.MaxWaitMS < e.MatchWindowMS {
		e.MaxWaitMS = e.MatchWindowMS
	}
	if e.CleanupGraceMS <= 0 {
		e.CleanupGraceMS = DefaultCleanupGraceMS
	}
	if e.MaxBodyBytes <= 0 {
		e.MaxBodyBytes = DefaultMaxBodyBytes
	}
	seen := make(map[domain.RuleID]struct{}, len(c.Rules))
	for _, r := range c.Rules {
		if _, ok := seen[r.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateRule, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

// Rule 按ID查找规则
func (c *Config) Rule(id domain.RuleID) (domain.Rule, bool) {
	for _, r := range c.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return domain.Rule{}, false
}

func (e Engine) MatchWindow() time.Duration {
	return time.Duration(e.MatchWindowMS) * time.Millisecond
}

func (e Engine) MaxWait() time.Duration {
	return time.Duration(e.MaxWaitMS) * time.Millisecond
}

func (e Engine) CleanupGrace() time.Duration {
	return time.Duration(e.CleanupGraceMS) * time.Millisecond
}
