// Package config loads the engine's runtime configuration from a YAML file,
// overridden by environment variables, overridden by flags — the same
// cascade order the teacher's cmd/server/main.go applies inline.
package config

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/technosupport/vms-watch/internal/platform/paths"
)

type Config struct {
	DBPath       string         `yaml:"db_path"`
	HTTPAddr     string         `yaml:"http_addr"`
	RedisAddr    string         `yaml:"redis_addr"`
	AuditSpool   string         `yaml:"audit_spool_dir"`
	SettingsFile string         `yaml:"settings_override_file"`
	Ingestor     IngestorConfig `yaml:"ingestor"`
}

type IngestorConfig struct {
	TargetWidth               int     `yaml:"target_width"`
	TargetHeight              int     `yaml:"target_height"`
	DedupeThreshold           float64 `yaml:"dedupe_threshold"`
	HistoryCapacity           int     `yaml:"history_capacity"`
	WarmupReads               int     `yaml:"warmup_reads"`
	NetworkReconnectThreshold int     `yaml:"network_reconnect_threshold"`
	LocalReconnectThreshold   int     `yaml:"local_reconnect_threshold"`
}

func Default() Config {
	return Config{
		DBPath:       "",
		HTTPAddr:     ":8090",
		RedisAddr:    "",
		AuditSpool:   "",
		SettingsFile: "",
		Ingestor: IngestorConfig{
			TargetWidth:               640,
			TargetHeight:              480,
			DedupeThreshold:           3.0,
			HistoryCapacity:           20,
			WarmupReads:               5,
			NetworkReconnectThreshold: 30,
			LocalReconnectThreshold:   10,
		},
	}
}

// Load applies the YAML file (if present), then environment variables, then
// command-line flags, in that order of increasing precedence.
func Load(args []string) (Config, error) {
	cfg := Default()

	cfgPath := paths.ResolveConfigPath("")
	if data, err := os.ReadFile(cfgPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", cfgPath, err)
		}
	}

	applyEnv(&cfg)

	fs := flag.NewFlagSet("vms-watch", flag.ContinueOnError)
	dbPath := fs.String("db", cfg.DBPath, "path to the sqlite database file")
	httpAddr := fs.String("http-addr", cfg.HTTPAddr, "address for the peer HTTP API")
	redisAddr := fs.String("redis-addr", cfg.RedisAddr, "redis address for the shared rate limiter (empty = in-process fallback)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	cfg.DBPath = *dbPath
	cfg.HTTPAddr = *httpAddr
	cfg.RedisAddr = *redisAddr

	if cfg.DBPath == "" {
		cfg.DBPath = paths.DBFile("watch.db")
	}
	if cfg.AuditSpool == "" {
		cfg.AuditSpool = paths.AuditSpoolDir()
	}
	if cfg.SettingsFile == "" {
		cfg.SettingsFile = paths.ResolveConfigPath(os.Getenv("VMS_SETTINGS_FILE"))
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("VMS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("VMS_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("VMS_AUDIT_SPOOL_DIR"); v != "" {
		cfg.AuditSpool = v
	}
}

// MaskSecret reveals only the last four characters of a sensitive setting
// value, matching the masking rule for settings shown to external callers.
func MaskSecret(v string) string {
	if len(v) <= 4 {
		return "••••"
	}
	masked := make([]rune, len(v)-4)
	for i := range masked {
		masked[i] = '•'
	}
	return string(masked) + v[len(v)-4:]
}

// SensitiveKeys are the settings masked on read.
var SensitiveKeys = map[string]bool{
	"GOOGLE_API_KEY":     true,
	"OPENAI_API_KEY":     true,
	"ANTHROPIC_API_KEY":  true,
	"OPENROUTER_API_KEY": true,
	"TELEGRAM_BOT_TOKEN": true,
	"DISCORD_WEBHOOK_URL": true,
}

// AllowedModels enumerates VIDEO_INGESTOR_MODEL's valid values. Unknown
// values fall back to DefaultModel with a warning. claude-3-5-haiku is
// added alongside the named set so ANTHROPIC_API_KEY (listed as a
// recognized credential) has a model that actually selects it.
var AllowedModels = map[string]bool{
	"gemini-2.5-flash":      true,
	"gemini-2.5-flash-lite": true,
	"gpt-4.1-nano":          true,
	"gpt-4o-mini":           true,
	"molmo-2-8b":            true,
	"qwen-2-vl-7b":          true,
	"phi-4-multimodal":      true,
	"claude-3-5-haiku":      true,
}

const DefaultModel = "gpt-4o-mini"
