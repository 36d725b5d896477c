package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kitchen-checkout/internal/domain/loyalty"
)

// Config holds the complete application configuration, loadable from
// environment variables (KITCHEN_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (KITCHEN_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Auth        AuthConfig
	Drafts      DraftConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Pricing     PricingConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// AuthConfig controls staff token verification.
type AuthConfig struct {
	Secret   string        `usage:"HMAC secret for staff tokens (KITCHEN_AUTH_SECRET)" flag:"auth-secret"`
	TokenTTL time.Duration `default:"12h" usage:"Lifetime of issued staff tokens"`
}

// DraftConfig controls draft storage.
type DraftConfig struct {
	TTL        time.Duration `default:"24h" usage:"Idle drafts are discarded after this duration"`
	StaleAfter time.Duration `default:"2m" usage:"Busy drafts older than this are reverted"`
}

// RedisConfig selects the shared draft store. An empty address keeps drafts
// in process memory.
type RedisConfig struct {
	Addr     string `default:"" usage:"Redis address for draft storage"`
	Password string `default:"" usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database"`
}

// KafkaConfig controls order event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `default:"" usage:"Kafka broker addresses"`
	Topic   string   `default:"orders.finalized" usage:"Topic for order finalized events"`
}

// PricingConfig holds pricing defaults.
type PricingConfig struct {
	DefaultCategory string `default:"dine_in" usage:"Category used when a draft names none"`
	// A loyalty point is worth PointMinorUnit × PointMultiplier.
	PointMinorUnit  string `default:"0.01" usage:"Smallest currency unit"`
	PointMultiplier int64  `default:"10" usage:"Minor units per loyalty point"`
}

// LoyaltyRate returns the configured point value.
func (p PricingConfig) LoyaltyRate() (loyalty.Rate, error) {
	unit, err := decimal.NewFromString(p.PointMinorUnit)
	if err != nil {
		return loyalty.Rate{}, errors.Wrap(err, "parse point minor unit")
	}
	if !unit.IsPositive() || p.PointMultiplier <= 0 {
		return loyalty.Rate{}, errors.New("loyalty point value must be positive")
	}
	return loyalty.Rate{MinorUnit: unit, Multiplier: p.PointMultiplier}, nil
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform defaults and validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KITCHEN",
		Files:     []string{"config.yaml", "/etc/kitchen/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set KITCHEN_DATABASE_URL or DATABASE_URL")
	}
	if c.Auth.Secret == "" {
		return errors.New("auth secret is required: set KITCHEN_AUTH_SECRET")
	}
	if _, err := c.Pricing.LoyaltyRate(); err != nil {
		return err
	}
	return nil
}

// applyPlatformDefaults maps platform-provided variables with standard names
// (DATABASE_URL, REDIS_ADDR, PORT) onto the KITCHEN_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = os.Getenv("REDIS_ADDR")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
	// An empty default yields a single empty entry.
	brokers := c.Kafka.Brokers[:0]
	for _, b := range c.Kafka.Brokers {
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Kafka.Brokers = brokers
}
