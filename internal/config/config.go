package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName          string
	AppVersion       string
	Environment      string
	HTTPAddr         string
	AuthCookieSecure bool
	SnowflakeNode    int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis     RedisConfig
	Auth      AuthConfig
	AccessKey AccessKeyConfig
	Scheduler SchedulerConfig
	RateLimit RateLimitConfig
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	// AdminEmails are promoted to the admin role on sign-up.
	AdminEmails []string
	SessionTTL  time.Duration
}

type AccessKeyConfig struct {
	RetentionDays       int
	CleanupBatchSize    int
	SuspiciousThreshold int
	SuspiciousWindow    time.Duration
}

type SchedulerConfig struct {
	Enabled    bool
	Interval   time.Duration
	JobTimeout time.Duration
	LockTTL    time.Duration
	RunOnStart bool
}

type RateLimitConfig struct {
	// PolicyFile is an optional YAML file overriding the limiter policies.
	PolicyFile string
	// IngressPerMinute throttles public endpoints per client IP. Zero disables it.
	IngressPerMinute int64
	IngressBurst     int64
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "keygate"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       environment,
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		AuthCookieSecure:  authCookieSecure,
		SnowflakeNode:     getenvInt64("SNOWFLAKE_NODE", 1),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "keygate"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", true),
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			AdminEmails: parseList(getenv("ADMIN_EMAILS", "")),
			SessionTTL:  getenvDuration("AUTH_SESSION_TTL", 7*24*time.Hour),
		},
		AccessKey: AccessKeyConfig{
			RetentionDays:       getenvInt("ACCESS_KEY_RETENTION_DAYS", 30),
			CleanupBatchSize:    getenvInt("ACCESS_KEY_CLEANUP_BATCH_SIZE", 50),
			SuspiciousThreshold: getenvInt("ACCESS_KEY_SUSPICIOUS_THRESHOLD", 10),
			SuspiciousWindow:    getenvDuration("ACCESS_KEY_SUSPICIOUS_WINDOW", 24*time.Hour),
		},
		Scheduler: SchedulerConfig{
			Enabled:    getenvBool("SCHEDULER_ENABLED", true),
			Interval:   getenvDuration("SCHEDULER_INTERVAL", time.Hour),
			JobTimeout: getenvDuration("SCHEDULER_JOB_TIMEOUT", 2*time.Minute),
			LockTTL:    getenvDuration("SCHEDULER_LOCK_TTL", 5*time.Minute),
			RunOnStart: getenvBool("SCHEDULER_RUN_ON_START", false),
		},
		RateLimit: RateLimitConfig{
			PolicyFile:       strings.TrimSpace(getenv("RATE_LIMIT_POLICY_FILE", "")),
			IngressPerMinute: getenvInt64("RATE_LIMIT_INGRESS_PER_MINUTE", 60),
			IngressBurst:     getenvInt64("RATE_LIMIT_INGRESS_BURST", 20),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	return int(getenvInt64(key, int64(def)))
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
