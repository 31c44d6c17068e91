package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/brettboylen/tag-search/api"
	"github.com/brettboylen/tag-search/db"
	"github.com/brettboylen/tag-search/stats"
	"github.com/brettboylen/tag-search/utils"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func main() {
	envPath := flag.String("env", ".env", "Path to .env file")
	logLevel := flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
	flag.Parse()

	log := setupLogger(*logLevel)
	log.Info("Starting Tag Search")

	config, err := utils.LoadConfig(*envPath, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	log.WithFields(logrus.Fields{
		"watch_tags":       config.Watch.Tags,
		"watch_schedule":   config.Watch.Schedule,
		"mastodon":         config.Mastodon.Instance,
		"token_cache_mode": config.TokenCache.Mode,
		"server_port":      config.Server.Port,
	}).Info("Configuration loaded")

	database, err := db.NewDatabase(config.Database.Path, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts, err := serviceOptions(ctx, config.TokenCache, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to set up token cache")
	}

	services := api.NewServices(
		api.RedditConfig{
			Credentials: api.Credentials{
				ClientID:     config.Reddit.ClientID,
				ClientSecret: config.Reddit.ClientSecret,
				Username:     config.Reddit.Username,
				Password:     config.Reddit.Password,
			},
			UserAgent:               config.Reddit.UserAgent,
			MaxRequestsPerMinute:    config.Reddit.MaxRequestsPerMinute,
			PublicRequestsPerMinute: config.Reddit.PublicRequestsPerMinute,
		},
		api.MastodonConfig{
			Instance:    config.Mastodon.Instance,
			AccessToken: config.Mastodon.AccessToken,
			UserAgent:   config.Mastodon.UserAgent,
		},
		log,
		opts...,
	)

	collector := stats.NewCollector(
		services,
		database,
		config.Watch.Tags,
		config.Watch.Schedule,
		config.Watch.Limit,
		log,
	)

	go startEchoServer(ctx, config.Server, collector, log)

	go func() {
		if err := collector.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("Stats collector stopped unexpectedly")
		}
	}()

	waitForShutdown(cancel, log)
}

// setupLogger sets up the logger with the specified log level
func setupLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// serviceOptions builds the token cache option for the configured mode. No cache means every search re-authenticates.
func serviceOptions(ctx context.Context, config utils.TokenCacheConfig, log *logrus.Logger) ([]api.Option, error) {
	switch config.Mode {
	case utils.TokenCacheMemory:
		log.Info("Caching tokens in memory")
		return []api.Option{api.WithTokenCache(api.NewMemoryTokenCache())}, nil
	case utils.TokenCacheRedis:
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		client, err := api.NewRedisClient(pingCtx, config.RedisAddr, config.RedisPassword, config.RedisDB)
		if err != nil {
			return nil, err
		}
		log.WithField("addr", config.RedisAddr).Info("Caching tokens in redis")
		return []api.Option{api.WithTokenCache(api.NewRedisTokenCache(client, log))}, nil
	default:
		return nil, nil
	}
}

// newEchoServer builds the HTTP API with per-IP rate limiting
func newEchoServer(collector *stats.Collector, rateLimitPerMinute int) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	requestsPerSecond := float64(rateLimitPerMinute) / 60.0

	rateLimiterConfig := middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/healthz"
		},
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(requestsPerSecond),
				Burst:     5,
				ExpiresIn: 3 * time.Minute,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusForbidden, map[string]string{
				"error": "Unable to identify client",
			})
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded, please try again later",
			})
		},
	}
	e.Use(middleware.RateLimiterWithConfig(rateLimiterConfig))

	e.GET("/api/search/:platform", func(c echo.Context) error {
		limit, _ := strconv.Atoi(c.QueryParam("limit"))
		posts := collector.Search(c.Request().Context(), c.Param("platform"), c.QueryParam("tag"), limit)
		return c.JSON(http.StatusOK, posts)
	})

	e.GET("/api/history", func(c echo.Context) error {
		limit, err := strconv.Atoi(c.QueryParam("limit"))
		if err != nil || limit <= 0 {
			limit = defaultHistoryLimit
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}

		records, err := collector.History(limit, c.QueryParam("q"))
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "Failed to load search history",
			})
		}
		return c.JSON(http.StatusOK, records)
	})

	e.GET("/api/stats", func(c echo.Context) error {
		return c.JSON(http.StatusOK, collector.GetStatistics())
	})

	e.GET("/api/stats/:tag", func(c echo.Context) error {
		tag := c.Param("tag")
		tagStats, exists := collector.GetTagStats(tag)
		if !exists {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": fmt.Sprintf("No statistics available for tag %s", tag),
			})
		}
		return c.JSON(http.StatusOK, tagStats)
	})

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	return e
}

// startEchoServer runs the HTTP API until ctx is cancelled
func startEchoServer(ctx context.Context, config utils.ServerConfig, collector *stats.Collector, log *logrus.Logger) {
	e := newEchoServer(collector, config.RateLimitPerMinute)

	go func() {
		serverAddr := fmt.Sprintf(":%d", config.Port)
		log.WithField("port", config.Port).Info("Starting API server")
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("API server shutdown failed")
	}
}

// waitForShutdown waits for a shutdown signal
func waitForShutdown(cancel context.CancelFunc, log *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("Shutdown signal received")

	cancel()

	time.Sleep(1 * time.Second)
	log.Info("Tag Search stopped")
}
