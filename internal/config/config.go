package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all environment-driven settings.
type Config struct {
	AppEnv    string
	LogLevel  string
	LogFormat string

	DatabaseDriver string
	DatabaseURL    string
	DatabaseSchema string
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	TelegramToken string
	TelegramDebug bool
	AdminChatIDs  []int64

	HTTPListenAddr   string
	PublicBasePath   string
	MetricsNamespace string

	SchedulerInterval time.Duration
	ReportHour        int
	SessionTTL        time.Duration
	ReferralPrefix    string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:    envStr("APP_ENV", "development"),
		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "text"),

		DatabaseDriver: envStr("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DatabaseSchema: envStr("DATABASE_SCHEMA", "public"),
		SQLitePath:     envStr("SQLITE_PATH", "data/boardgame.db"),

		RedisAddr:     envStr("REDIS_ADDR", ""),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		RedisTLS:      envBool("REDIS_TLS", false),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramDebug: envBool("TELEGRAM_DEBUG", false),

		HTTPListenAddr:   envStr("HTTP_LISTEN_ADDR", ":8080"),
		PublicBasePath:   os.Getenv("PUBLIC_BASE_PATH"),
		MetricsNamespace: envStr("METRICS_NAMESPACE", "boardgame_bot"),

		SchedulerInterval: envDuration("SCHEDULER_INTERVAL", 10*time.Minute),
		ReportHour:        envInt("REPORT_HOUR", 9),
		SessionTTL:        envDuration("SESSION_TTL", 30*time.Minute),
		ReferralPrefix:    envStr("REFERRAL_PREFIX", "ref_"),
	}

	switch cfg.DatabaseDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER=postgres")
		}
	case "sqlite":
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}

	ids, err := parseChatIDs(os.Getenv("ADMIN_CHAT_IDS"))
	if err != nil {
		return nil, fmt.Errorf("parse ADMIN_CHAT_IDS: %w", err)
	}
	cfg.AdminChatIDs = ids

	return cfg, nil
}

func parseChatIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("chat id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
