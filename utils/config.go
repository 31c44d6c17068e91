package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// token cache modes
const (
	TokenCacheNone   = "none"
	TokenCacheMemory = "memory"
	TokenCacheRedis  = "redis"
)

// Config holds all configuration for the application
type Config struct {
	App        AppConfig
	Reddit     RedditConfig
	Mastodon   MastodonConfig
	Watch      WatchConfig
	Database   DatabaseConfig
	Server     ServerConfig
	TokenCache TokenCacheConfig
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Name    string
	Version string
}

// RedditConfig holds Reddit API configuration. Every credential is optional;
// without any of them only the public search is used.
type RedditConfig struct {
	ClientID                string
	ClientSecret            string
	Username                string
	Password                string
	UserAgent               string
	MaxRequestsPerMinute    int
	PublicRequestsPerMinute int
}

// MastodonConfig holds the mastodon instance configuration
type MastodonConfig struct {
	Instance    string
	AccessToken string
	UserAgent   string
}

// WatchConfig holds the tags polled in the background
type WatchConfig struct {
	Tags     []string
	Schedule string
	Limit    int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port               int
	RateLimitPerMinute int // per client IP
}

// TokenCacheConfig selects where bearer tokens are cached between searches
type TokenCacheConfig struct {
	Mode          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// LoadConfig loads configuration from the environment, optionally seeded by a .env file
func LoadConfig(envPath string, log *logrus.Logger) (*Config, error) {
	if envPath == "" {
		envPath = ".env"
	}

	if err := godotenv.Load(envPath); err != nil {
		log.WithError(err).WithField("file", envPath).Warn("No .env file loaded, using environment only")
	}

	v := newEnv()

	config := &Config{
		App: AppConfig{
			Name:    getEnv(v, "APP_NAME", "Tag Search"),
			Version: getEnv(v, "APP_VERSION", "1.0.0"),
		},
		Reddit: RedditConfig{
			ClientID:                getEnv(v, "REDDIT_CLIENT_ID", ""),
			ClientSecret:            getEnv(v, "REDDIT_CLIENT_SECRET", ""),
			Username:                getEnv(v, "REDDIT_USERNAME", ""),
			Password:                getSecret(v, "REDDIT_PASSWORD"),
			UserAgent:               getEnv(v, "REDDIT_USER_AGENT", ""),
			MaxRequestsPerMinute:    getEnvAsInt(v, "REDDIT_MAX_REQUESTS_PER_MINUTE", 100),
			PublicRequestsPerMinute: getEnvAsInt(v, "REDDIT_PUBLIC_REQUESTS_PER_MINUTE", 30),
		},
		Mastodon: MastodonConfig{
			Instance:    getEnv(v, "MASTODON_INSTANCE", "mastodon.social"),
			AccessToken: getEnv(v, "MASTODON_ACCESS_TOKEN", ""),
			UserAgent:   getEnv(v, "MASTODON_USER_AGENT", ""),
		},
		Watch: WatchConfig{
			Tags:     parseTags(getEnv(v, "WATCH_TAGS", "")),
			Schedule: getEnv(v, "WATCH_SCHEDULE", "@every 5m"),
			Limit:    getEnvAsInt(v, "WATCH_LIMIT", 20),
		},
		Database: DatabaseConfig{
			Path: getEnv(v, "DATABASE_PATH", "./tag-search.db"),
		},
		Server: ServerConfig{
			Port:               getEnvAsInt(v, "SERVER_PORT", 8080),
			RateLimitPerMinute: getEnvAsInt(v, "SERVER_RATE_LIMIT_PER_MINUTE", 60),
		},
		TokenCache: TokenCacheConfig{
			Mode:          strings.ToLower(getEnv(v, "TOKEN_CACHE_MODE", TokenCacheNone)),
			RedisAddr:     getEnv(v, "REDIS_ADDR", "localhost:6379"),
			RedisPassword: getSecret(v, "REDIS_PASSWORD"),
			RedisDB:       getEnvAsInt(v, "REDIS_DB", 0),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	log.WithField("file", envPath).Info("Config loaded successfully")
	return config, nil
}

func newEnv() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	return v
}

// parseTags parses a comma-separated list of tags, dropping a leading '#' and duplicates
func parseTags(tagsStr string) []string {
	parts := strings.Split(tagsStr, ",")

	seen := make(map[string]bool, len(parts))
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		tag := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "#"))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	return tags
}

// getEnv gets an environment variable or returns a default value
func getEnv(v *viper.Viper, key, defaultValue string) string {
	v.SetDefault(key, defaultValue)
	return strings.TrimSpace(v.GetString(key))
}

// getSecret returns a secret exactly as configured, surrounding whitespace included
func getSecret(v *viper.Viper, key string) string {
	return v.GetString(key)
}

// getEnvAsInt gets an environment variable as an integer or returns a default value
func getEnvAsInt(v *viper.Viper, key string, defaultValue int) int {
	if value, err := strconv.Atoi(strings.TrimSpace(v.GetString(key))); err == nil {
		return value
	}
	return defaultValue
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535")
	}
	if config.Server.RateLimitPerMinute < 1 {
		return fmt.Errorf("SERVER_RATE_LIMIT_PER_MINUTE must be positive")
	}
	if config.Reddit.MaxRequestsPerMinute < 1 || config.Reddit.PublicRequestsPerMinute < 1 {
		return fmt.Errorf("REDDIT_MAX_REQUESTS_PER_MINUTE and REDDIT_PUBLIC_REQUESTS_PER_MINUTE must be positive")
	}
	if config.Watch.Limit < 1 {
		return fmt.Errorf("WATCH_LIMIT must be positive")
	}
	if _, err := cron.ParseStandard(config.Watch.Schedule); err != nil {
		return fmt.Errorf("WATCH_SCHEDULE is invalid: %w", err)
	}

	switch config.TokenCache.Mode {
	case TokenCacheNone, TokenCacheMemory:
	case TokenCacheRedis:
		if config.TokenCache.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when TOKEN_CACHE_MODE is redis")
		}
	default:
		return fmt.Errorf("TOKEN_CACHE_MODE must be one of none, memory, redis; got %q", config.TokenCache.Mode)
	}

	// if we are storing the db in a nested directory, create the directory
	dbDir := filepath.Dir(config.Database.Path)
	if dbDir != "." && dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
