package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/gyeh/medicare-lookup/internal/cms"
	"github.com/gyeh/medicare-lookup/internal/report"
	"github.com/spf13/viper"
)

// Config is the process configuration, read from the environment and an
// optional dotenv file.
type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	LogFormat      string        `mapstructure:"LOG_FORMAT"`
	CMSBaseURL     string        `mapstructure:"CMS_BASE_URL"`
	CMSTimeout     time.Duration `mapstructure:"CMS_TIMEOUT"`
	CMSMaxAttempts int           `mapstructure:"CMS_MAX_ATTEMPTS"`
	CMSRetryDelay  time.Duration `mapstructure:"CMS_RETRY_DELAY"`
	CMSMaxResults  int           `mapstructure:"CMS_MAX_RESULTS"`
	BulkWorkers    int           `mapstructure:"BULK_WORKERS"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	SMTPServer     string        `mapstructure:"SMTP_SERVER"`
	SMTPPort       int           `mapstructure:"SMTP_PORT"`
	SMTPUsername   string        `mapstructure:"SMTP_USERNAME"`
	SMTPPassword   string        `mapstructure:"SMTP_PASSWORD"`
	SenderEmail    string        `mapstructure:"SENDER_EMAIL"`
	ReportBucket   string        `mapstructure:"REPORT_BUCKET"`
	AWSRegion      string        `mapstructure:"AWS_REGION"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "LOG_FORMAT",
	"CMS_BASE_URL", "CMS_TIMEOUT", "CMS_MAX_ATTEMPTS", "CMS_RETRY_DELAY", "CMS_MAX_RESULTS",
	"BULK_WORKERS", "CORS_ORIGINS",
	"SMTP_SERVER", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SENDER_EMAIL",
	"REPORT_BUCKET", "AWS_REGION",
}

// Load reads configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom is Load with an explicit dotenv path.
func LoadFrom(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("CMS_BASE_URL", cms.DefaultBaseURL)
	v.SetDefault("CMS_TIMEOUT", cms.DefaultTimeout)
	v.SetDefault("CMS_MAX_ATTEMPTS", cms.DefaultMaxAttempts)
	v.SetDefault("CMS_RETRY_DELAY", cms.DefaultRetryDelay)
	v.SetDefault("CMS_MAX_RESULTS", 5000)
	v.SetDefault("BULK_WORKERS", 4)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000")
	v.SetDefault("SMTP_SERVER", "smtp.gmail.com")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("AWS_REGION", "us-east-1")

	// Bind explicitly so Unmarshal sees env-only keys.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s: %w", envFile, err)
		}
		// A missing .env is fine.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(strings.Join(cfg.CORSOrigins, ","))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	if c.CMSMaxAttempts < 1 {
		return fmt.Errorf("CMS_MAX_ATTEMPTS must be at least 1, got %d", c.CMSMaxAttempts)
	}
	if c.CMSMaxResults < 1 {
		return fmt.Errorf("CMS_MAX_RESULTS must be at least 1, got %d", c.CMSMaxResults)
	}
	if c.BulkWorkers < 1 {
		return fmt.Errorf("BULK_WORKERS must be at least 1, got %d", c.BulkWorkers)
	}
	if c.CMSTimeout <= 0 {
		return fmt.Errorf("CMS_TIMEOUT must be positive, got %s", c.CMSTimeout)
	}
	return nil
}

// CMS returns the provider directory client settings.
func (c *Config) CMS() cms.Config {
	cfg := cms.DefaultConfig()
	cfg.BaseURL = c.CMSBaseURL
	cfg.Timeout = c.CMSTimeout
	cfg.MaxAttempts = c.CMSMaxAttempts
	cfg.RetryDelay = c.CMSRetryDelay
	return cfg
}

// SMTP returns the mail relay settings.
func (c *Config) SMTP() report.SMTPConfig {
	return report.SMTPConfig{
		Host:     c.SMTPServer,
		Port:     c.SMTPPort,
		Username: c.SMTPUsername,
		Password: c.SMTPPassword,
		From:     c.SenderEmail,
	}
}
