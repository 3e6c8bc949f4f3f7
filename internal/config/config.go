package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	AuthMode       string   `mapstructure:"AUTH_MODE"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	BillStore      string   `mapstructure:"BILL_STORE"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant  string   `mapstructure:"DEFAULT_TENANT"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	PaymentRateLimit  int           `mapstructure:"PAYMENT_RATE_LIMIT"`
	PaymentRateWindow time.Duration `mapstructure:"PAYMENT_RATE_WINDOW"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit         string        `mapstructure:"BODY_LIMIT"`

	AMQPURL             string `mapstructure:"AMQP_URL"`
	BillingExchange     string `mapstructure:"BILLING_EXCHANGE"`
	AppointmentExchange string `mapstructure:"APPOINTMENT_EXCHANGE"`
	AppointmentQueue    string `mapstructure:"APPOINTMENT_QUEUE"`

	OverdueSchedule     string `mapstructure:"OVERDUE_SCHEDULE"`
	PaymentTermsDays    int    `mapstructure:"PAYMENT_TERMS_DAYS"`
	MaxConflictRetries  int    `mapstructure:"MAX_CONFLICT_RETRIES"`
	PatientSelfCheckout bool   `mapstructure:"PATIENT_SELF_CHECKOUT"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "BILL_STORE", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DEFAULT_TENANT", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REDIS_URL", "PAYMENT_RATE_LIMIT",
	"PAYMENT_RATE_WINDOW", "REQUEST_TIMEOUT", "BODY_LIMIT", "AMQP_URL", "BILLING_EXCHANGE",
	"APPOINTMENT_EXCHANGE", "APPOINTMENT_QUEUE", "OVERDUE_SCHEDULE", "PAYMENT_TERMS_DAYS",
	"MAX_CONFLICT_RETRIES", "PATIENT_SELF_CHECKOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "")
	v.SetDefault("BILL_STORE", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("PAYMENT_RATE_LIMIT", 10)
	v.SetDefault("PAYMENT_RATE_WINDOW", "1m")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("BILLING_EXCHANGE", "hms.billing")
	v.SetDefault("APPOINTMENT_EXCHANGE", "hms.appointments")
	v.SetDefault("APPOINTMENT_QUEUE", "billing.appointment-completed")
	v.SetDefault("OVERDUE_SCHEDULE", "@every 1h")
	v.SetDefault("PAYMENT_TERMS_DAYS", 30)
	v.SetDefault("MAX_CONFLICT_RETRIES", 3)
	v.SetDefault("PATIENT_SELF_CHECKOUT", false)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(strings.Join(cfg.CORSOrigins, ","))
	cfg.BillStore = strings.ToLower(strings.TrimSpace(cfg.BillStore))

	if cfg.BillStore == StorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when BILL_STORE=%s", StorePostgres)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development runs
// with header-based dev auth and every other environment validates JWTs.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

func (c *Config) Validate() error {
	switch c.ResolvedAuthMode() {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed when ENV=production")
		}
	case "jwt":
		if c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when AUTH_MODE is \"jwt\"")
		}
		if c.IsProduction() && c.AuthSigningKey != "" {
			return fmt.Errorf("AUTH_SIGNING_KEY must not be used in production")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", c.AuthMode)
	}

	switch c.BillStore {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when BILL_STORE=%s", StorePostgres)
		}
	case StoreMemory:
		if c.IsProduction() {
			return fmt.Errorf("BILL_STORE=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("BILL_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.BillStore)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.PaymentTermsDays < 0 {
		return fmt.Errorf("PAYMENT_TERMS_DAYS must not be negative")
	}
	if c.MaxConflictRetries < 1 {
		return fmt.Errorf("MAX_CONFLICT_RETRIES must be at least 1")
	}
	if c.OverdueSchedule != "" {
		if _, err := cron.ParseStandard(c.OverdueSchedule); err != nil {
			return fmt.Errorf("OVERDUE_SCHEDULE %q: %w", c.OverdueSchedule, err)
		}
	}
	return nil
}

// PaymentTerms is the due-date offset applied to new bills; zero leaves
// bills without a due date.
func (c *Config) PaymentTerms() time.Duration {
	return time.Duration(c.PaymentTermsDays) * 24 * time.Hour
}
