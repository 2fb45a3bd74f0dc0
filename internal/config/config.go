package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"RimValidator/internal/model"
	"RimValidator/internal/policy"
)

// Config holds all application configuration.
type Config struct {
	Store struct {
		Driver  string        `yaml:"driver"` // "supabase" or "memory"
		URL     string        `yaml:"url"`
		Key     string        `yaml:"key"`
		Table   string        `yaml:"table"`
		Timeout time.Duration `yaml:"timeout"`
		Fixture string        `yaml:"fixture"` // JSON rows seeding the memory driver
	} `yaml:"store"`
	Schedule struct {
		TickInterval time.Duration `yaml:"tick_interval"`
		ReportCron   string        `yaml:"report_cron"`
		PruneCron    string        `yaml:"prune_cron"`
	} `yaml:"schedule"`
	Policy   PolicyConfig `yaml:"policy"`
	Database struct {
		SQLitePath string        `yaml:"sqlite_path"`
		Retention  time.Duration `yaml:"retention"`
	} `yaml:"database"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Metrics struct {
		Addr      string `yaml:"addr"`
		Namespace string `yaml:"namespace"`
	} `yaml:"metrics"`
	Log struct {
		Level    string `yaml:"level"`
		Encoding string `yaml:"encoding"`
	} `yaml:"log"`
	Proxy   string `yaml:"proxy"`
	RunOnce bool   `yaml:"run_once"`
}

// PolicyConfig overrides policy defaults. Unset fields keep the default.
type PolicyConfig struct {
	TimeoutSeconds              *float64        `yaml:"timeout_seconds"`
	BaseRate                    *float64        `yaml:"base_rate"`
	TickSeconds                 *float64        `yaml:"tick_seconds"`
	ReferralRatePerTick         *float64        `yaml:"referral_rate_per_tick"`
	BoosterFactor               *float64        `yaml:"booster_factor"`
	BotnetFactor                *float64        `yaml:"botnet_factor"`
	RelayEnabled                *bool           `yaml:"relay_enabled"`
	BoosterEnabled              *bool           `yaml:"booster_enabled"`
	BotnetEnabled               *bool           `yaml:"botnet_enabled"`
	RelayCoversMissingHeartbeat *bool           `yaml:"relay_covers_missing_heartbeat"`
	Tiers                       model.TierTable `yaml:"tiers"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := firstEnv("SUPABASE_URL", "VITE_SUPABASE_URL"); v != "" {
		cfg.Store.URL = v
	}
	if v := firstEnv("SUPABASE_KEY", "VITE_SUPABASE_ANON_KEY"); v != "" {
		cfg.Store.Key = v
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("STORE_FIXTURE"); v != "" {
		cfg.Store.Fixture = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Schedule.TickInterval = d
		}
	}
	if v := os.Getenv("RUN_ONCE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RunOnce = b
		}
	}

	// Defaults
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "supabase"
	}
	if cfg.Store.Table == "" {
		cfg.Store.Table = "users"
	}
	if cfg.Store.Timeout == 0 {
		cfg.Store.Timeout = 10 * time.Second
	}
	if cfg.Schedule.TickInterval == 0 {
		cfg.Schedule.TickInterval = 5 * time.Second
	}
	if cfg.Schedule.ReportCron == "" {
		cfg.Schedule.ReportCron = "0 0 0 * * *"
	}
	if cfg.Schedule.PruneCron == "" {
		cfg.Schedule.PruneCron = "0 0 * * * *"
	}
	if cfg.Database.Retention == 0 {
		cfg.Database.Retention = 72 * time.Hour
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "rim_validator"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Encoding == "" {
		cfg.Log.Encoding = "json"
	}

	return cfg, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "supabase":
		if c.Store.URL == "" {
			return fmt.Errorf("store.url is required (SUPABASE_URL)")
		}
		if c.Store.Key == "" {
			return fmt.Errorf("store.key is required (SUPABASE_KEY)")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	if c.Schedule.TickInterval <= 0 {
		return fmt.Errorf("schedule.tick_interval must be positive")
	}
	if c.Database.Retention < 24*time.Hour {
		return fmt.Errorf("database.retention must cover the 24h report window")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	if _, err := c.BuildPolicy(); err != nil {
		return err
	}
	return nil
}

// BuildPolicy applies the configured overrides to the default policy.
func (c *Config) BuildPolicy() (policy.Policy, error) {
	p := policy.Default()
	pc := c.Policy
	setFloat(&p.TimeoutSeconds, pc.TimeoutSeconds)
	setFloat(&p.BaseRate, pc.BaseRate)
	setFloat(&p.TickSeconds, pc.TickSeconds)
	setFloat(&p.ReferralRatePerTick, pc.ReferralRatePerTick)
	setFloat(&p.BoosterFactor, pc.BoosterFactor)
	setFloat(&p.BotnetFactor, pc.BotnetFactor)
	setBool(&p.RelayEnabled, pc.RelayEnabled)
	setBool(&p.BoosterEnabled, pc.BoosterEnabled)
	setBool(&p.BotnetEnabled, pc.BotnetEnabled)
	setBool(&p.RelayCoversMissingHeartbeat, pc.RelayCoversMissingHeartbeat)
	if len(pc.Tiers) > 0 {
		p.Tiers = pc.Tiers
	}
	if err := p.Validate(); err != nil {
		return policy.Policy{}, err
	}
	return p, nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
