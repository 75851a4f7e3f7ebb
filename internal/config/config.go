package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/davidahmann/afaap/internal/auth"
	"github.com/davidahmann/afaap/internal/ledger"
)

type Config struct {
	ListenAddr string     `yaml:"listen_addr"`
	DB         DBConfig   `yaml:"db"`
	PolicyPath string     `yaml:"policy_path"`
	Log        LogConfig  `yaml:"log"`
	Auth       AuthConfig `yaml:"auth"`
	SLA        SLAConfig  `yaml:"sla"`

	// Threshold overrides from the environment, applied on top of the policy file.
	MinF1Score *float64 `yaml:"-"`
	MaxFPR     *float64 `yaml:"-"`
}

type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuthConfig struct {
	Tokens []auth.Token `yaml:"tokens"`
}

type SLAConfig struct {
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// EnvOverrides are the AFAAP_* variables that win over the file.
type EnvOverrides struct {
	ListenAddr string   `env:"LISTEN_ADDR"`
	DBDriver   string   `env:"DB_DRIVER"`
	DBDSN      string   `env:"DB_DSN"`
	PolicyPath string   `env:"POLICY_PATH"`
	LogLevel   string   `env:"LOG_LEVEL"`
	MinF1Score *float64 `env:"MIN_F1_SCORE"`
	MaxFPR     *float64 `env:"MAX_FPR"`
}

const envPrefix = "AFAAP_"

func Default() Config {
	return Config{
		ListenAddr: ":8080",
		DB:         DBConfig{Driver: string(ledger.DBMemory)},
		Log:        LogConfig{Level: "info", Format: "json"},
		SLA:        SLAConfig{WatchInterval: time.Minute},
	}
}

// Load reads the YAML file (with ${VAR} expansion), then applies
// environment overrides. An empty path starts from Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		// #nosec G304 -- path is operator-provided config path.
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}

		expanded := os.ExpandEnv(string(raw))
		expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) ApplyEnv() error {
	var o EnvOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if o.ListenAddr != "" {
		c.ListenAddr = o.ListenAddr
	}
	if o.DBDriver != "" {
		c.DB.Driver = o.DBDriver
	}
	if o.DBDSN != "" {
		c.DB.DSN = o.DBDSN
	}
	if o.PolicyPath != "" {
		c.PolicyPath = o.PolicyPath
	}
	if o.LogLevel != "" {
		c.Log.Level = o.LogLevel
	}
	if o.MinF1Score != nil {
		c.MinF1Score = o.MinF1Score
	}
	if o.MaxFPR != nil {
		c.MaxFPR = o.MaxFPR
	}
	return nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}

	driver, err := ledger.ParseDriver(c.DB.Driver)
	if err != nil {
		return err
	}
	if driver != ledger.DBMemory && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.driver is %s", driver)
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}

	if c.SLA.WatchInterval < 0 {
		return fmt.Errorf("sla.watch_interval must not be negative")
	}
	return nil
}
