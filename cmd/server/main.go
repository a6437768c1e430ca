package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"
	"github.com/lifekiller/rarbg/internal/cache"
	"github.com/lifekiller/rarbg/internal/config"
	"github.com/lifekiller/rarbg/internal/feed"
	"github.com/lifekiller/rarbg/internal/indexers"
	"github.com/lifekiller/rarbg/internal/indexers/torrentapi"
	"github.com/lifekiller/rarbg/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const version = "1.0.0"

var startTime = time.Now()

type Server struct {
	router  *gin.Engine
	logger  *zap.Logger
	config  *config.Config
	cache   cache.Store
	indexer indexers.Indexer
	feed    *feed.Renderer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
	})
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := torrentapi.New(torrentapi.Config{
		BaseURL:      cfg.UpstreamURL,
		AppID:        cfg.AppID,
		TokenTTL:     cfg.TokenTTL,
		RateInterval: cfg.RateInterval,
		Timeout:      cfg.UpstreamTimeout,
	}, log)

	store, closeStore, err := newStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Cache setup failed", zap.Error(err))
	}
	defer closeStore()

	server := NewServer(cfg, log, client, store)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Requests can queue behind the upstream rate limit for a while.
		WriteTimeout:   120 * time.Second,
		IdleTimeout:    90 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()

		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced shutdown", zap.Error(err))
		}
	}()

	log.Info("🚀 Server starting",
		zap.String("port", cfg.Port),
		zap.String("url", fmt.Sprintf("http://localhost:%s", cfg.Port)),
		zap.String("upstream", cfg.UpstreamURL),
		zap.Duration("token_ttl", cfg.TokenTTL),
		zap.Duration("rate_interval", cfg.RateInterval),
		zap.Bool("cache", cfg.CacheEnabled),
		zap.String("cache_backend", cfg.CacheBackend))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("Server failed", zap.Error(err))
	}
}

// newStore builds the result cache named by the config. The returned func
// releases whatever the store holds open.
func newStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (cache.Store, func(), error) {
	if !cfg.CacheEnabled {
		return nil, func() {}, nil
	}

	if cfg.CacheBackend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}

		log.Info("Cache enabled",
			zap.String("backend", "redis"),
			zap.String("addr", cfg.RedisAddr),
			zap.Duration("ttl", cfg.CacheTTL))
		store := cache.NewRedisStore(rdb, cfg.CacheTTL, log, cache.WithPrefix(cfg.RedisPrefix))
		return store, func() { _ = rdb.Close() }, nil
	}

	mem := cache.NewCache(cfg.CacheTTL)
	mem.StartJanitor(ctx, time.Minute)
	log.Info("Cache enabled", zap.String("backend", "memory"), zap.Duration("ttl", cfg.CacheTTL))
	return mem, func() {}, nil
}

func NewServer(cfg *config.Config, logger *zap.Logger, indexer indexers.Indexer, store cache.Store) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		router:  gin.New(),
		config:  cfg,
		logger:  logger,
		cache:   store,
		indexer: indexer,
		feed:    feed.NewRenderer(siteURL(cfg.UpstreamURL), "torrentapi search results"),
	}

	// Middleware
	server.router.Use(gin.Recovery())
	server.router.Use(requestID())
	server.router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	})
	server.router.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	server.SetupRoutes()

	return server
}

func (s *Server) SetupRoutes() {
	s.router.GET("/", s.handleFeed)
	s.router.GET("/search/:query", s.handleSearchString)
	s.router.GET("/imdb/:id", s.handleIMDb)
	s.router.GET("/tvdb/:id", s.handleTVDB)

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/stats", s.handleStats)
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Accept", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID", "X-Cache"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

// siteURL trims the API endpoint down to scheme://host/ for the channel link.
func siteURL(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Scheme + "://" + u.Host + "/"
}
