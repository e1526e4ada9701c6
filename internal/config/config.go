// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as the runtime environment, server timeouts, logging, database access,
// token signing, rate limiting, and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment tags accepted in APP_ENV.
const (
	EnvLocal       = "local"
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Database drivers accepted in DB_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-users-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects and configures the database.
type DBConfig struct {
	Driver       string // sqlite|postgres
	Path         string // SQLite file (or ":memory:")
	Host         string
	Port         int
	Database     string
	Username     string
	Password     string
	Logging      bool // gorm SQL logging
	MaxOpenConns int
	MaxIdleConns int
}

// DSN renders a pgx keyword/value connection string.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.Username, d.Password, d.Database)
}

// AuthConfig holds token signing and password hashing settings.
//
// Secrets may be empty at load time: they can be filled from AWS Secrets
// Manager (SecretID / RefreshSecretID) before the server starts. A missing
// secret is reported when a token is generated, not here.
type AuthConfig struct {
	SecretKey        string        // JWT_SECRET_KEY
	RefreshSecretKey string        // JWT_REFRESH_SECRET_KEY
	AccessTokenTTL   time.Duration // ACCESS_TOKEN_TTL, seconds
	RefreshTokenTTL  time.Duration // REFRESH_TOKEN_TTL, seconds
	BcryptCost       int           // BCRYPT_SALT_ROUNDS
	SecretID         string        // JWT_SECRET_ID
	RefreshSecretID  string        // JWT_REFRESH_SECRET_ID
	AWSRegion        string        // AWS_REGION
}

// SeedConfig controls the admin bootstrap job.
type SeedConfig struct {
	Enabled  bool
	Email    string
	Password string
	Name     string
}

// Config holds all configuration values for the application.
type Config struct {
	Env string // local|development|staging|production|test

	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	DB   DBConfig
	Auth AuthConfig
	Seed SeedConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// LoadDotEnv loads `.env.test` when APP_ENV=test, `.env` otherwise. Missing
// files are not an error; variables already set in the process win.
func LoadDotEnv() error {
	file := ".env"
	if strings.EqualFold(strings.TrimSpace(os.Getenv("APP_ENV")), EnvTest) {
		file = ".env.test"
	}
	if _, err := os.Stat(file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(file)
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	env := strings.ToLower(strings.TrimSpace(getenv("APP_ENV", EnvProduction)))
	diagnostic := env == EnvLocal || env == EnvDevelopment || env == EnvStaging

	cfg := Config{
		Env: env,

		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", diagnostic),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver:       strings.ToLower(getenv("DB_DRIVER", DriverSQLite)),
			Path:         getenv("DB_PATH", "app.db"),
			Host:         getenv("DB_HOST", "localhost"),
			Port:         getint("DB_PORT", 5432),
			Database:     getenv("DB_DATABASE", "users"),
			Username:     getenv("DB_USERNAME", "postgres"),
			Password:     getenv("DB_PASSWORD", ""),
			Logging:      getbool("DB_LOGGING", false),
			MaxOpenConns: getint("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getint("DB_MAX_IDLE_CONNS", 5),
		},

		Auth: AuthConfig{
			SecretKey:        getenv("JWT_SECRET_KEY", ""),
			RefreshSecretKey: getenv("JWT_REFRESH_SECRET_KEY", ""),
			AccessTokenTTL:   getseconds("ACCESS_TOKEN_TTL", 3600),
			RefreshTokenTTL:  getseconds("REFRESH_TOKEN_TTL", 28800),
			BcryptCost:       getint("BCRYPT_SALT_ROUNDS", 10),
			SecretID:         getenv("JWT_SECRET_ID", ""),
			RefreshSecretID:  getenv("JWT_REFRESH_SECRET_ID", ""),
			AWSRegion:        getenv("AWS_REGION", ""),
		},

		Seed: SeedConfig{
			Enabled:  getbool("SEED_ADMIN", false),
			Email:    getenv("ADMIN_EMAIL", "admin@test.com"),
			Password: getenv("ADMIN_PASSWORD", "asdfasdf"),
			Name:     getenv("ADMIN_NAME", "admin"),
		},

		// Rate limiting: 1000 requests per minute
		RateRPS:   getfloat("RATE_RPS", 1000.0/60.0),
		RateBurst: getint("RATE_BURST", 1000),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("SITE_ORIGIN", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-users-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.Env {
	case EnvLocal, EnvDevelopment, EnvStaging, EnvProduction, EnvTest:
	default:
		return cfg, errors.New("APP_ENV must be one of: local, development, staging, production, test")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case DriverSQLite:
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case DriverPostgres:
		if strings.TrimSpace(cfg.DB.Host) == "" || strings.TrimSpace(cfg.DB.Database) == "" {
			return cfg, errors.New("DB_HOST and DB_DATABASE must not be empty")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if err := cfg.Auth.CheckSecrets(); err != nil {
		return cfg, err
	}
	if cfg.Auth.AccessTokenTTL < 0 || cfg.Auth.RefreshTokenTTL < 0 {
		return cfg, errors.New("token TTLs must be >= 0")
	}
	if cfg.Auth.BcryptCost < 4 || cfg.Auth.BcryptCost > 31 {
		return cfg, errors.New("BCRYPT_SALT_ROUNDS must be between 4 and 31")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// CheckSecrets validates the signing secrets. Call it again after secrets
// were filled from an external store.
func (a AuthConfig) CheckSecrets() error {
	if err := checkSecret("JWT_SECRET_KEY", a.SecretKey); err != nil {
		return err
	}
	return checkSecret("JWT_REFRESH_SECRET_KEY", a.RefreshSecretKey)
}

// checkSecret allows an empty secret (filled later or reported at use) but
// rejects one outside 5..100 characters.
func checkSecret(name, v string) error {
	if v == "" {
		return nil
	}
	if n := len(v); n < 5 || n > 100 {
		return fmt.Errorf("%s must be 5..100 characters", name)
	}
	return nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getseconds reads an integer number of seconds.
func getseconds(k string, def int) time.Duration {
	return time.Duration(getint(k, def)) * time.Second
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
