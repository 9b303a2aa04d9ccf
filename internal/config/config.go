package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName          string
	AppEnv           string
	AppPort          string
	DatabaseURL      string
	RedisURL         string
	NATSURL          string
	JWTSecret        string
	EventsChannel    string
	QueueCacheTTL    time.Duration
	SignTimeout      time.Duration
	SignRateLimit    int
	SignRateWindow   time.Duration
	AutoMigrate      bool
	ShutdownDeadline time.Duration
	DBMaxOpenConns   int
	DBMaxIdleConns   int
	DBConnLifetime   time.Duration
	CORSOrigins      string
	AccessLog        bool
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("COVERLETTER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Cover Letter API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("events.channel", "coverletter")
	v.SetDefault("queue.cache_ttl", "2m")
	v.SetDefault("sign.timeout", "10s")
	v.SetDefault("sign.rate_limit", 10)
	v.SetDefault("sign.rate_window", "1m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("shutdown.deadline", "5s")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("http.access_log", false)

	cacheTTL, err := parseDuration(v, "queue.cache_ttl", 2*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("invalid queue cache ttl: %w", err)
	}

	signTimeout, err := parseDuration(v, "sign.timeout", 10*time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("invalid sign timeout: %w", err)
	}

	rateWindow, err := parseDuration(v, "sign.rate_window", time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("invalid sign rate window: %w", err)
	}

	shutdownDeadline, err := parseDuration(v, "shutdown.deadline", 5*time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("invalid shutdown deadline: %w", err)
	}

	connLifetime, err := parseDuration(v, "database.conn_max_lifetime", 30*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("invalid database connection lifetime: %w", err)
	}

	cfg := Config{
		AppName:          v.GetString("app.name"),
		AppEnv:           v.GetString("app.env"),
		AppPort:          v.GetString("app.port"),
		DatabaseURL:      v.GetString("database.url"),
		RedisURL:         v.GetString("redis.url"),
		NATSURL:          v.GetString("nats.url"),
		JWTSecret:        v.GetString("jwt.secret"),
		EventsChannel:    v.GetString("events.channel"),
		QueueCacheTTL:    cacheTTL,
		SignTimeout:      signTimeout,
		SignRateLimit:    v.GetInt("sign.rate_limit"),
		SignRateWindow:   rateWindow,
		AutoMigrate:      v.GetBool("database.auto_migrate"),
		ShutdownDeadline: shutdownDeadline,
		DBMaxOpenConns:   v.GetInt("database.max_open_conns"),
		DBMaxIdleConns:   v.GetInt("database.max_idle_conns"),
		DBConnLifetime:   connLifetime,
		CORSOrigins:      v.GetString("cors.allow_origins"),
		AccessLog:        v.GetBool("http.access_log"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.SignRateLimit <= 0 {
		cfg.SignRateLimit = 10
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return fallback, nil
	}
	return time.ParseDuration(raw)
}
