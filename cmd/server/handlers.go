package main

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lifekiller/rarbg/internal/adapter"
	"github.com/lifekiller/rarbg/internal/indexers/torrentapi"
	"github.com/lifekiller/rarbg/internal/models"
	"go.uber.org/zap"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
	rssContentType  = "application/rss+xml; charset=utf-8"

	// Upper bound on one feed request, rate-limit queueing included.
	searchTimeout = 90 * time.Second
)

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// queryFromRequest forwards every query-string parameter, first value wins.
func queryFromRequest(c *gin.Context) models.SearchQuery {
	q := models.SearchQuery{}
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			q[k] = v[0]
		}
	}
	return q
}

func (s *Server) handleFeed(c *gin.Context) {
	s.serveFeed(c, queryFromRequest(c))
}

func (s *Server) handleSearchString(c *gin.Context) {
	q := queryFromRequest(c)
	q["mode"] = "search"
	q["search_string"] = c.Param("query")
	s.serveFeed(c, q)
}

func (s *Server) handleIMDb(c *gin.Context) {
	q := queryFromRequest(c)
	q["mode"] = "search"
	q["search_imdb"] = c.Param("id")
	s.serveFeed(c, q)
}

func (s *Server) handleTVDB(c *gin.Context) {
	q := queryFromRequest(c)
	q["mode"] = "search"
	q["search_tvdb"] = c.Param("id")
	s.serveFeed(c, q)
}

func (s *Server) serveFeed(c *gin.Context, query models.SearchQuery) {
	key := query.Key()

	if s.cache != nil {
		if cached, found := s.cache.Get(c.Request.Context(), key); found {
			s.logger.Debug("Feed cache hit", zap.String("query", key))
			c.Header("X-Cache", "HIT")
			s.writeFeed(c, cached)
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), searchTimeout)
	defer cancel()

	results, err := s.indexer.Search(ctx, query)
	if err != nil {
		var apiErr *torrentapi.APIError
		kind := "unknown"
		if errors.As(err, &apiErr) {
			kind = apiErr.Kind.String()
		}
		s.logger.Warn("Feed search failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("query", key),
			zap.String("kind", kind),
			zap.Error(err))
		c.String(http.StatusServiceUnavailable, err.Error())
		return
	}

	if s.cache != nil {
		s.cache.Set(c.Request.Context(), key, results)
	}

	c.Header("X-Cache", "MISS")
	s.writeFeed(c, results)
}

func (s *Server) writeFeed(c *gin.Context, results []models.TorrentResult) {
	if c.NegotiateFormat(rssContentType, gin.MIMEJSON) == gin.MIMEJSON {
		c.JSON(http.StatusOK, adapter.ToJackettFormat(s.indexer.Name(), results))
		return
	}

	body, err := s.feed.Bytes(s.config.FeedTitle, results)
	if err != nil {
		s.logger.Error("Rendering feed failed", zap.Error(err))
		c.String(http.StatusInternalServerError, "failed to render feed")
		return
	}
	c.Data(http.StatusOK, rssContentType, body)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	status := models.HealthStatus{
		Status:       "healthy",
		Indexer:      s.indexer.Name(),
		TokenState:   "unknown",
		CacheEnabled: s.cache != nil,
		Uptime:       time.Since(startTime).String(),
	}

	code := http.StatusOK
	if err := s.indexer.HealthCheck(ctx); err != nil {
		status.Status = "unhealthy"
		status.Error = err.Error()
		code = http.StatusServiceUnavailable
	}

	if client, ok := s.indexer.(*torrentapi.Client); ok {
		status.TokenState = client.Tokens().State().String()
	}

	c.JSON(code, status)
}

func (s *Server) handleStats(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := models.Stats{
		Uptime:       time.Since(startTime).String(),
		Version:      version,
		CacheEnabled: s.cache != nil,
		MemoryMB:     m.Alloc / 1024 / 1024,
		Goroutines:   runtime.NumGoroutine(),
	}
	if s.cache != nil {
		stats.CacheSize = s.cache.Len(c.Request.Context())
	}
	if client, ok := s.indexer.(*torrentapi.Client); ok {
		stats.UpstreamRequests = client.Requests()
		stats.TokenRefreshes = client.Tokens().Fetches()
	}

	c.JSON(http.StatusOK, stats)
}
