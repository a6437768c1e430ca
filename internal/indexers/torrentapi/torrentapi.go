package torrentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/lifekiller/rarbg/internal/models"
	"github.com/lifekiller/rarbg/internal/ratelimit"
	"github.com/lifekiller/rarbg/internal/token"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL      = "https://torrentapi.org/pubapi_v2.php"
	DefaultRateInterval = 2 * time.Second
	DefaultTimeout      = 30 * time.Second

	responseFormat = "json_extended"
	maxBodyBytes   = 8 << 20

	// A search whose token ages out while it queues for a slot starts over
	// at most this many times before sending whatever it holds.
	maxTokenAttempts = 3
)

type Config struct {
	BaseURL      string
	AppID        string
	TokenTTL     time.Duration
	RateInterval time.Duration
	Timeout      time.Duration
}

// Client talks to torrentapi. Every outbound call, token refreshes
// included, goes through one shared rate limiter.
type Client struct {
	baseURL string
	appID   string
	client  *http.Client
	limiter *ratelimit.Limiter
	tokens  *token.Cache
	logger  *zap.Logger

	requests atomic.Uint64
}

// envelope is the error shape every torrentapi response may carry.
type envelope struct {
	Error     string `json:"error"`
	ErrorCode int    `json:"error_code"`
}

func (e envelope) failed() bool { return e.Error != "" }

func (e envelope) apiError() *APIError {
	return &APIError{Kind: KindUpstream, Message: e.Error, Code: e.ErrorCode}
}

type tokenResponse struct {
	envelope
	Token string `json:"token"`
}

type searchResponse struct {
	envelope
	Results []rawTorrent `json:"torrent_results"`
}

type rawTorrent struct {
	Title    string `json:"title"`
	Filename string `json:"filename"`
	Category string `json:"category"`
	Download string `json:"download"`
	Seeders  int    `json:"seeders"`
	Leechers int    `json:"leechers"`
	Size     int64  `json:"size"`
	PubDate  string `json:"pubdate"`
	InfoPage string `json:"info_page"`
	Episode  *struct {
		IMDb flexString `json:"imdb"`
		TVDB flexString `json:"tvdb"`
	} `json:"episode_info"`
}

// flexString accepts ids that upstream sends as either strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = token.DefaultTTL
	}
	if cfg.RateInterval <= 0 {
		cfg.RateInterval = DefaultRateInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{
		baseURL: cfg.BaseURL,
		appID:   cfg.AppID,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: ratelimit.New(cfg.RateInterval),
		logger:  logger.Named("torrentapi"),
	}
	c.tokens = token.NewCache(c.fetchToken, cfg.TokenTTL)
	return c
}

func (c *Client) Name() string {
	return "torrentapi"
}

// Tokens exposes the token cache for health reporting.
func (c *Client) Tokens() *token.Cache { return c.tokens }

// Requests is the number of searches issued since start.
func (c *Client) Requests() uint64 { return c.requests.Load() }

// Search runs one upstream search. The query is not modified.
func (c *Client) Search(ctx context.Context, query models.SearchQuery) ([]models.TorrentResult, error) {
	id := c.requests.Add(1)
	log := c.logger.With(
		zap.Uint64("request", id),
		zap.String("query", query.Key()),
	)

	start := time.Now()
	results, err := c.search(ctx, query)
	if err != nil {
		log.Warn("Upstream search failed",
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	log.Info("Upstream search complete",
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)))
	return results, nil
}

func (c *Client) search(ctx context.Context, query models.SearchQuery) ([]models.TorrentResult, error) {
	tok, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	params := query.Values()
	params.Set("token", tok)
	params.Set("format", responseFormat)
	if c.appID != "" {
		params.Set("app_id", c.appID)
	}

	var resp searchResponse
	if err := c.do(ctx, params, &resp); err != nil {
		return nil, err
	}

	if resp.failed() {
		apiErr := resp.apiError()
		if apiErr.TokenRejected() {
			c.tokens.Invalidate()
		}
		return nil, apiErr
	}

	return normalize(resp.Results), nil
}

// acquire gets a token and then a rate-limit slot. The token is checked
// again once the slot comes up, since a long queue can outlast its TTL.
func (c *Client) acquire(ctx context.Context) (string, error) {
	for attempt := 1; ; attempt++ {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return "", err
			}
			return "", transportErr("token refresh", err)
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", transportErr("waiting for rate limit", err)
		}

		if c.tokens.Current(tok) || attempt == maxTokenAttempts {
			return tok, nil
		}
		c.logger.Debug("Token expired while queued", zap.Int("attempt", attempt))
	}
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	params := url.Values{}
	params.Set("get_token", "get_token")
	if c.appID != "" {
		params.Set("app_id", c.appID)
	}

	var resp tokenResponse
	if err := c.call(ctx, params, &resp); err != nil {
		return "", err
	}
	if resp.failed() {
		return "", resp.apiError()
	}
	if resp.Token == "" {
		return "", parseErr("token response has no token", nil)
	}

	c.logger.Debug("Token refreshed")
	return resp.Token, nil
}

// call waits for a rate-limit slot and then does the request.
func (c *Client) call(ctx context.Context, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return transportErr("waiting for rate limit", err)
	}
	return c.do(ctx, params, out)
}

// do issues GET baseURL?params and decodes the JSON body into out. The
// caller must already hold a rate-limit slot.
func (c *Client) do(ctx context.Context, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return transportErr("building request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return transportErr("request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return transportErr("reading body", err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if err := json.Unmarshal(body, out); err != nil {
		if !ok {
			return transportErr(fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
		}
		return parseErr("decoding response", err)
	}

	// A non-2xx with a JSON error body is reported by the caller as an
	// upstream error; anything else is a transport failure.
	if f, isEnv := out.(interface{ failed() bool }); !ok && !(isEnv && f.failed()) {
		return transportErr(fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
	return nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.tokens.Token(ctx)
	return err
}
