package config

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every runtime setting for the server, worker and CLI.
// Values come from the process environment, optionally seeded from a .env file.
type Config struct {
	Env  string `envconfig:"ENV" default:"development"`
	Port string `envconfig:"PORT" default:"8080"`

	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBLogLevel  string `envconfig:"DB_LOG_LEVEL" default:"warn"`
	RedisURL    string `envconfig:"REDIS_URL"`

	WahaBaseURL  string `envconfig:"WAHA_BASE_URL" default:"http://waha:3000"`
	WahaAPIKey   string `envconfig:"WAHA_API_KEY"`
	WahaSession  string `envconfig:"WAHA_SESSION" default:"default"`
	WahaHumanize bool   `envconfig:"WAHA_HUMANIZE" default:"true"`

	// ChannelPrefix is the scheme every inbound sender must carry, e.g. "whatsapp:+9198...".
	ChannelPrefix      string   `envconfig:"CHANNEL_PREFIX" default:"whatsapp:"`
	DefaultCountryCode string   `envconfig:"DEFAULT_COUNTRY_CODE" default:"91"`
	TestSenders        []string `envconfig:"TEST_SENDERS" default:"+14155238886"`
	CurrencySymbol     string   `envconfig:"CURRENCY_SYMBOL" default:"₹"`
	DealListLimit      int      `envconfig:"DEAL_LIST_LIMIT" default:"5"`

	WorkerPollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"1m"`
	SweepRRule         string        `envconfig:"SWEEP_RRULE" default:"FREQ=MINUTELY;INTERVAL=5"`
	SweepConcurrency   int           `envconfig:"SWEEP_CONCURRENCY" default:"4"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load reads the optional .env file and decodes the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.validateAndAddDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RequireDatabase fails when DATABASE_URL is missing. Only processes that
// touch the store call it, so `dealctl waha` can run without a database.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

// MessagingEnabled reports whether outbound messages go to WAHA or only to the log.
func (c *Config) MessagingEnabled() bool {
	return c.WahaBaseURL != "" && c.WahaAPIKey != ""
}

// IsTestSender reports whether replies to this sender are returned inline instead of sent.
func (c *Config) IsTestSender(sender string) bool {
	for _, s := range c.TestSenders {
		if s != "" && strings.Contains(sender, s) {
			return true
		}
	}
	return false
}

func (c *Config) validateAndAddDefaults() error {
	c.Port = strings.TrimSpace(c.Port)
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.WahaBaseURL = strings.TrimRight(strings.TrimSpace(c.WahaBaseURL), "/")
	c.ChannelPrefix = strings.TrimSpace(c.ChannelPrefix)

	if c.Port == "" {
		c.Port = "8080"
	}
	if c.ChannelPrefix == "" {
		return errors.New("CHANNEL_PREFIX must not be empty")
	}
	if c.DealListLimit <= 0 {
		log.Printf("Warning: DEAL_LIST_LIMIT %d is not positive, using 5", c.DealListLimit)
		c.DealListLimit = 5
	}
	if c.SweepConcurrency <= 0 {
		c.SweepConcurrency = 1
	}
	if c.WorkerPollInterval <= 0 {
		return errors.New("WORKER_POLL_INTERVAL must be positive")
	}
	return nil
}
