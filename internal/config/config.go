package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling of strings like
// "500ms" or "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// GatewayConfig holds one provider's credentials and endpoints.
type GatewayConfig struct {
	BaseURL      string   `yaml:"base_url"`
	APIKey       string   `yaml:"api_key"`
	SiteID       string   `yaml:"site_id"`
	Secret       string   `yaml:"secret"`
	WebhookToken string   `yaml:"webhook_token"`
	MasterKey    string   `yaml:"master_key"`
	PrivateKey   string   `yaml:"private_key"`
	Token        string   `yaml:"token"`
	WebhookUser  string   `yaml:"webhook_user"`
	WebhookPass  string   `yaml:"webhook_pass"`
	IPNSecret    string   `yaml:"ipn_secret"`
	PayCiphers   string   `yaml:"pay_currencies"`
	NotifyURL    string   `yaml:"notify_url"`
	ReturnURL    string   `yaml:"return_url"`
	Timeout      Duration `yaml:"timeout"`
}

// EngineConfig tunes reconciliation behaviour.
type EngineConfig struct {
	SettleTolerance         string   `yaml:"settle_tolerance"`
	MaxAttempts             uint     `yaml:"max_attempts"`
	RetryInitial            Duration `yaml:"retry_initial"`
	NotifyTimeout           Duration `yaml:"notify_timeout"`
	WithdrawalApprovalLimit string   `yaml:"withdrawal_approval_limit"`
}

// SweepConfig tunes the polling sweep job.
type SweepConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Interval    Duration `yaml:"interval"`
	MaxAge      Duration `yaml:"max_age"`
	BatchLimit  int      `yaml:"batch_limit"`
	Concurrency int      `yaml:"concurrency"`
	PollTimeout Duration `yaml:"poll_timeout"`
}

// FileConfig is the optional YAML config document.
type FileConfig struct {
	NotifyURL string                   `yaml:"notify_url"`
	Engine    EngineConfig             `yaml:"engine"`
	Sweep     SweepConfig              `yaml:"sweep"`
	Gateways  map[string]GatewayConfig `yaml:"gateways"`
}

// Config is the resolved runtime configuration: environment variables for
// deployment-level settings, a YAML file for gateway credentials and tuning.
type Config struct {
	DBSource string
	Port     string
	Env      string
	File     FileConfig
}

// Load reads the environment and, when CONFIG_FILE points at a YAML file,
// merges it in. DB_SOURCE is required unless the in-memory store is used.
func Load() (*Config, error) {
	cfg := &Config{
		DBSource: os.Getenv("DB_SOURCE"),
		Port:     os.Getenv("SERVER_PORT"),
		Env:      os.Getenv("ENVIRONMENT"),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	cfg.File.Sweep.Enabled = true

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg.File); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Secrets can always be supplied through the environment, overriding
	// the file.
	overrideSecret(cfg, "cinetpay", "CINETPAY_SECRET", func(g *GatewayConfig, v string) { g.Secret = v })
	overrideSecret(cfg, "paydunya", "PAYDUNYA_MASTER_KEY", func(g *GatewayConfig, v string) { g.MasterKey = v })
	overrideSecret(cfg, "nowpayments", "NOWPAYMENTS_IPN_SECRET", func(g *GatewayConfig, v string) { g.IPNSecret = v })

	return cfg, nil
}

func overrideSecret(cfg *Config, gateway, envVar string, set func(*GatewayConfig, string)) {
	v := os.Getenv(envVar)
	if v == "" {
		return
	}
	if cfg.File.Gateways == nil {
		cfg.File.Gateways = make(map[string]GatewayConfig)
	}
	g := cfg.File.Gateways[gateway]
	set(&g, v)
	cfg.File.Gateways[gateway] = g
}
