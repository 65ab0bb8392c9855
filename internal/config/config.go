package config // package config loads application configuration from environment variables

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv" // optional .env file support for local development
)

// Student authentication modes. A deployment mounts only the routes of
// the configured mode.
const (
	StudentAuthLocal  = "local"
	StudentAuthGoogle = "google"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable; sub-configs for the rate limiter and response
// cache are loaded by their own loaders.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	// MySQL identity store (admins, students).
	DBUser string
	DBPass string
	DBHost string
	DBPort string
	DBName string

	// MongoDB catalog store. An empty URI runs the catalog in demo mode.
	MongoURI      string
	MongoDatabase string

	JWTSecret  string        // secret used to sign session tokens
	TokenTTL   time.Duration // session token lifetime
	BcryptCost int           // bcrypt cost for password hashing

	StudentAuthMode string // "local" or "google"
	GoogleClientID  string // expected audience of Google ID tokens
	AdminEmail      string // Google identity routed to an existing admin

	CORSAllowedOrigins []string // browser origins allowed to call the API
	PublicBaseURL      string   // base of shareable registration links

	RabbitMQURL          string // broker for registration.created messages; empty disables publishing
	QueueConsumerEnabled bool   // run the in-process audit consumer
	RegistrationLogDir   string // directory holding registrations.log

	LogLevel  string // debug, info, warn, error
	LogFormat string // json or text

	RateLimit RateLimitConfig
	Cache     CacheConfig
}

// Load reads configuration values from the environment and returns a
// Config. A .env file in the working directory is loaded first when
// present; real environment variables win over it. All missing required
// variables are reported together.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var missing []string
	must := func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := Config{
		Env:                  envStr("APP_ENV", "dev"),
		Port:                 envStr("APP_PORT", "8080"),
		DBUser:               must("DB_USER"),
		DBPass:               os.Getenv("DB_PASS"), // empty allowed
		DBHost:               must("DB_HOST"),
		DBPort:               envStr("DB_PORT", "3306"),
		DBName:               must("DB_NAME"),
		MongoURI:             os.Getenv("MONGODB_URI"),
		MongoDatabase:        envStr("MONGODB_DATABASE", "club_registration"),
		JWTSecret:            must("JWT_SECRET"),
		TokenTTL:             envDur("TOKEN_TTL", 24*time.Hour),
		BcryptCost:           envInt("BCRYPT_COST", 12),
		StudentAuthMode:      strings.ToLower(envStr("STUDENT_AUTH_MODE", StudentAuthLocal)),
		GoogleClientID:       os.Getenv("GOOGLE_CLIENT_ID"),
		AdminEmail:           strings.ToLower(strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))),
		CORSAllowedOrigins:   splitList(envStr("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		PublicBaseURL:        strings.TrimRight(envStr("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		RabbitMQURL:          os.Getenv("RABBITMQ_URL"),
		QueueConsumerEnabled: envBool("QUEUE_CONSUMER_ENABLED", false),
		RegistrationLogDir:   envStr("REGISTRATION_LOG_DIR", "logs"),
		LogLevel:             strings.ToLower(envStr("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(envStr("LOG_FORMAT", "json")),
		RateLimit:            LoadRateLimitConfig(),
		Cache:                LoadCacheConfig(),
	}

	switch cfg.StudentAuthMode {
	case StudentAuthLocal:
	case StudentAuthGoogle:
		if cfg.GoogleClientID == "" {
			missing = append(missing, "GOOGLE_CLIENT_ID")
		}
	default:
		return Config{}, fmt.Errorf("invalid STUDENT_AUTH_MODE %q: want %q or %q", cfg.StudentAuthMode, StudentAuthLocal, StudentAuthGoogle)
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if cfg.TokenTTL <= 0 {
		return Config{}, fmt.Errorf("invalid TOKEN_TTL: must be positive")
	}
	return cfg, nil
}

// DemoMode is true when no MongoDB URI is configured.
func (c Config) DemoMode() bool { return c.MongoURI == "" }

// splitList turns a comma separated env value into trimmed non-empty items.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
