package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values come from env (optionally seeded from ENV_FILE).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	Store     StoreConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Media     MediaConfig
	Calls     CallsConfig
	Sessions  SessionsConfig
	Bus       BusConfig
	Realtime  RealtimeConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Env  string `env:"APP_ENV" envDefault:"local"`
	Port int    `env:"APP_PORT" envDefault:"8080"`

	ShutdownTimeout time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// StoreConfig selects the record store. "memory" keeps everything in-process and is meant
// for local runs and tests only.
type StoreConfig struct {
	Driver string `env:"STORE_DRIVER" envDefault:"postgres"`
}

type DBConfig struct {
	Host     string `env:"DB_HOST"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`

	// SSLMode is kept explicit for production posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string `env:"DB_SSLMODE"`

	MaxOpenConns int  `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	AutoMigrate  bool `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

type RedisConfig struct {
	Host string `env:"REDIS_HOST"`
	Port int    `env:"REDIS_PORT" envDefault:"6379"`
}

type AuthConfig struct {
	JWTSecret       string        `env:"JWT_SECRET"`
	JWTIssuer       string        `env:"JWT_ISSUER"`
	JWTAudience     string        `env:"JWT_AUDIENCE"`
	AccessTokenTTL  time.Duration `env:"JWT_ACCESS_TTL"`
	RefreshTokenTTL time.Duration `env:"JWT_REFRESH_TTL"`
}

// MediaConfig configures credentials for the third-party media room service.
type MediaConfig struct {
	URL       string        `env:"MEDIA_URL"`
	APIKey    string        `env:"MEDIA_API_KEY"`
	APISecret string        `env:"MEDIA_API_SECRET"`
	TokenTTL  time.Duration `env:"MEDIA_TOKEN_TTL" envDefault:"2h"`
}

type CallsConfig struct {
	RingTimeout    time.Duration `env:"CALL_RING_TIMEOUT" envDefault:"60s"`
	StaleInitiated time.Duration `env:"CALL_STALE_INITIATED" envDefault:"60s"`
	StaleAccepted  time.Duration `env:"CALL_STALE_ACCEPTED" envDefault:"120s"`
}

type SessionsConfig struct {
	StalePending    time.Duration `env:"SESSION_STALE_PENDING" envDefault:"10m"`
	StaleInProgress time.Duration `env:"SESSION_STALE_IN_PROGRESS" envDefault:"120m"`
}

type BusConfig struct {
	// Driver is "redis" (multi-process) or "memory" (single process).
	Driver        string `env:"BUS_DRIVER" envDefault:"redis"`
	ChannelPrefix string `env:"BUS_CHANNEL_PREFIX" envDefault:"liveconnect:"`
	// Buffer is the per-subscription queue between the bus and the dispatcher.
	Buffer int `env:"BUS_BUFFER" envDefault:"4096"`
}

type RealtimeConfig struct {
	SendBuffer      int           `env:"REALTIME_SEND_BUFFER" envDefault:"64"`
	PingInterval    time.Duration `env:"REALTIME_PING_INTERVAL" envDefault:"25s"`
	WriteTimeout    time.Duration `env:"REALTIME_WRITE_TIMEOUT" envDefault:"10s"`
	ReadLimit       int64         `env:"REALTIME_READ_LIMIT" envDefault:"65536"`
	MaxConnsPerUser int           `env:"REALTIME_MAX_CONNS_PER_USER" envDefault:"5"`
	PresenceTTL     time.Duration `env:"REALTIME_PRESENCE_TTL" envDefault:"60s"`
	AllowedOrigins  []string      `env:"REALTIME_ALLOWED_ORIGINS" envSeparator:","`
}

type RateLimitConfig struct {
	PerSecond float64 `env:"RATE_LIMIT_RPS" envDefault:"1"`
	Burst     int     `env:"RATE_LIMIT_BURST" envDefault:"5"`
}

// Load reads ENV_FILE (or ./.env when present), parses the environment and validates.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	c := Config{}
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("config parse: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func loadEnvFile() error {
	if path := strings.TrimSpace(os.Getenv("ENV_FILE")); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("ENV_FILE %q: %w", path, err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load()
	}
	return nil
}

// Validate reports every problem at once and fills env-dependent defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	switch c.Store.Driver {
	case "postgres":
		errs = append(errs, c.validateDB()...)
	case "memory":
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_DRIVER=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.Store.Driver))
	}

	switch c.Bus.Driver {
	case "redis":
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required when BUS_DRIVER=redis"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	case "memory":
		if c.IsProduction() {
			errs = append(errs, errors.New("BUS_DRIVER=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("BUS_DRIVER must be redis or memory, got %q", c.Bus.Driver))
	}
	if c.Bus.Buffer <= 0 {
		errs = append(errs, fmt.Errorf("BUS_BUFFER must be > 0, got %d", c.Bus.Buffer))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Media.APISecret == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("MEDIA_API_SECRET is required in production"))
		} else {
			// Local credentials are still signed; they just aren't accepted by any real media service.
			c.Media.APISecret = c.Auth.JWTSecret
		}
	}
	if c.Media.TokenTTL <= 0 {
		errs = append(errs, errors.New("MEDIA_TOKEN_TTL must be > 0"))
	}

	if c.Calls.RingTimeout <= 0 {
		errs = append(errs, errors.New("CALL_RING_TIMEOUT must be > 0"))
	}
	if c.Calls.StaleInitiated < c.Calls.RingTimeout {
		errs = append(errs, errors.New("CALL_STALE_INITIATED must be >= CALL_RING_TIMEOUT"))
	}
	if c.Calls.StaleAccepted <= 0 {
		errs = append(errs, errors.New("CALL_STALE_ACCEPTED must be > 0"))
	}
	if c.Sessions.StalePending <= 0 || c.Sessions.StaleInProgress <= 0 {
		errs = append(errs, errors.New("SESSION_STALE_PENDING and SESSION_STALE_IN_PROGRESS must be > 0"))
	}

	if c.Realtime.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("REALTIME_SEND_BUFFER must be > 0, got %d", c.Realtime.SendBuffer))
	}
	if c.Realtime.PingInterval <= 0 || c.Realtime.WriteTimeout <= 0 {
		errs = append(errs, errors.New("REALTIME_PING_INTERVAL and REALTIME_WRITE_TIMEOUT must be > 0"))
	}
	if c.Realtime.MaxConnsPerUser <= 0 {
		errs = append(errs, errors.New("REALTIME_MAX_CONNS_PER_USER must be > 0"))
	}
	if c.Realtime.PresenceTTL <= c.Realtime.PingInterval {
		errs = append(errs, errors.New("REALTIME_PRESENCE_TTL must be greater than REALTIME_PING_INTERVAL"))
	}

	if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0"))
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) IsLocal() bool {
	return c.App.Env == "local" || c.App.Env == "dev"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
