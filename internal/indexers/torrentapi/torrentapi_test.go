package torrentapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/lifekiller/rarbg/internal/models"
	"github.com/lifekiller/rarbg/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeUpstream mimics pubapi_v2.php: get_token hands out a token, anything
// else returns searchBody.
type fakeUpstream struct {
	mu          sync.Mutex
	tokenBody   string
	numbered    bool
	searchBody  string
	searchCode  int
	tokenCalls  int
	searchCalls []url.Values
	delay       time.Duration
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f.mu.Lock()
	isToken := q.Get("get_token") != ""
	if isToken {
		f.tokenCalls++
	} else {
		f.searchCalls = append(f.searchCalls, q)
	}
	tokenBody, searchBody, code, delay := f.tokenBody, f.searchBody, f.searchCode, f.delay
	if isToken && f.numbered {
		tokenBody = fmt.Sprintf(`{"token":"tok-%d"}`, f.tokenCalls)
	}
	f.mu.Unlock()

	if isToken {
		if tokenBody == "" {
			tokenBody = `{"token":"abc123"}`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(tokenBody))
		return
	}

	if delay > 0 {
		time.Sleep(delay)
	}
	if code == 0 {
		code = http.StatusOK
	}
	w.WriteHeader(code)
	_, _ = w.Write([]byte(searchBody))
}

func (f *fakeUpstream) stats() (int, []url.Values) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls, append([]url.Values(nil), f.searchCalls...)
}

func newTestClient(t *testing.T, up *fakeUpstream, mutate ...func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)

	cfg := Config{
		BaseURL:      srv.URL,
		AppID:        "rarbg-rss",
		RateInterval: time.Millisecond,
		Timeout:      2 * time.Second,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return New(cfg, zap.NewNop())
}

const oneResult = `{"torrent_results":[{
	"title":"Some.Movie.2017.1080p.BluRay.x264",
	"category":"Movies/x264/1080",
	"download":"magnet:?xt=urn:btih:ABCDEF1234567890&dn=Some.Movie&tr=udp%3A%2F%2Ftracker.example%3A1337",
	"seeders":42,
	"leechers":7,
	"size":1073741824,
	"pubdate":"2017-04-10 15:23:19 +0000",
	"info_page":"https://torrentapi.org/redirect_to_info.php?token=x&p=1",
	"episode_info":{"imdb":"tt1234567","tvdb":81189}
}]}`

func TestSearch_NormalizesResults(t *testing.T) {
	up := &fakeUpstream{searchBody: oneResult}
	c := newTestClient(t, up)

	results, err := c.Search(context.Background(), models.SearchQuery{"mode": "search", "search_string": "some movie"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, "Some.Movie.2017.1080p.BluRay.x264", r.Title)
	assert.Equal(t, "ABCDEF1234567890", r.InfoHash)
	assert.EqualValues(t, 1073741824, r.SizeBytes)
	assert.Equal(t, "1.0G", r.HumanSize)
	assert.True(t, time.Date(2017, 4, 10, 15, 23, 19, 0, time.UTC).Equal(r.PublishedAt))
	assert.Equal(t, "Movies/x264/1080", r.Category)
	assert.Equal(t, 42, r.Seeders)
	assert.Equal(t, 7, r.Leechers)
	assert.Equal(t, "tt1234567", r.IMDb)
	assert.Equal(t, "81189", r.TVDB)
}

func TestSearch_AttachesTokenAndFormat(t *testing.T) {
	up := &fakeUpstream{searchBody: `{"torrent_results":[]}`}
	c := newTestClient(t, up)

	query := models.SearchQuery{"mode": "search", "search_imdb": "tt1234567"}
	_, err := c.Search(context.Background(), query)
	require.NoError(t, err)

	_, calls := up.stats()
	require.Len(t, calls, 1)
	got := calls[0]
	assert.Equal(t, "search", got.Get("mode"))
	assert.Equal(t, "tt1234567", got.Get("search_imdb"))
	assert.Equal(t, "abc123", got.Get("token"))
	assert.Equal(t, "json_extended", got.Get("format"))
	assert.Equal(t, "rarbg-rss", got.Get("app_id"))

	// The caller's query is left alone.
	assert.Equal(t, models.SearchQuery{"mode": "search", "search_imdb": "tt1234567"}, query)
}

func TestSearch_UpstreamError(t *testing.T) {
	up := &fakeUpstream{searchBody: `{"error":"Too many requests"}`}
	c := newTestClient(t, up)

	results, err := c.Search(context.Background(), models.SearchQuery{"mode": "search"})
	assert.Nil(t, results)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindUpstream, apiErr.Kind)
	assert.Equal(t, "Too many requests", apiErr.Message)
	assert.Equal(t, "Too many requests", err.Error())
}

func TestSearch_UpstreamErrorWithStatus(t *testing.T) {
	up := &fakeUpstream{searchBody: `{"error":"Too many requests","error_code":5}`, searchCode: http.StatusTooManyRequests}
	c := newTestClient(t, up)

	_, err := c.Search(context.Background(), models.SearchQuery{"mode": "search"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindUpstream, apiErr.Kind)
	assert.Equal(t, 5, apiErr.Code)
}

func TestSearch_EmptyAndMissingResults(t *testing.T) {
	for _, body := range []string{`{"torrent_results":[]}`, `{}`} {
		t.Run(body, func(t *testing.T) {
			up := &fakeUpstream{searchBody: body}
			c := newTestClient(t, up)

			results, err := c.Search(context.Background(), models.SearchQuery{"mode": "list"})
			require.NoError(t, err)
			assert.NotNil(t, results)
			assert.Empty(t, results)
		})
	}
}

func TestSearch_MalformedJSON(t *testing.T) {
	up := &fakeUpstream{searchBody: `{"torrent_results": [`}
	c := newTestClient(t, up)

	_, err := c.Search(context.Background(), models.SearchQuery{"mode": "search"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindParse, apiErr.Kind)
}

func TestSearch_BadStatus(t *testing.T) {
	up := &fakeUpstream{searchBody: `<html>bad gateway</html>`, searchCode: http.StatusBadGateway}
	c := newTestClient(t, up)

	_, err := c.Search(context.Background(), models.SearchQuery{"mode": "search"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindTransport, apiErr.Kind)
	assert.Contains(t, err.Error(), "502")
}

func TestSearch_Timeout(t *testing.T) {
	up := &fakeUpstream{searchBody: `{}`, delay: 300 * time.Millisecond}
	c := newTestClient(t, up, func(cfg *Config) { cfg.Timeout = 50 * time.Millisecond })

	_, err := c.Search(context.Background(), models.SearchQuery{"mode": "search"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindTransport, apiErr.Kind)
}

func TestSearch_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := New(Config{BaseURL: base, RateInterval: time.Millisecond}, zap.NewNop())
	_, err := c.Search(context.Background(), models.SearchQuery{"mode": "search"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindTransport, apiErr.Kind)
	assert.Equal(t, token.Empty, c.Tokens().State())
}

func TestSearch_ReusesToken(t *testing.T) {
	up := &fakeUpstream{searchBody: `{"torrent_results":[]}`}
	c := newTestClient(t, up)

	for i := 0; i < 3; i++ {
		_, err := c.Search(context.Background(), models.SearchQuery{"mode": "list"})
		require.NoError(t, err)
	}

	tokenCalls, searchCalls := up.stats()
	assert.Equal(t, 1, tokenCalls)
	assert.Len(t, searchCalls, 3)
	assert.EqualValues(t, 3, c.Requests())
}

func TestSearch_RejectedTokenIsDropped(t *testing.T) {
	up := &fakeUpstream{searchBody: `{"error":"Invalid token. Use get_token for a new one!","error_code":4}`}
	c := newTestClient(t, up)

	_, err := c.Search(context.Background(), models.SearchQuery{"mode": "list"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.TokenRejected())
	assert.Equal(t, token.Empty, c.Tokens().State())

	up.mu.Lock()
	up.searchBody = `{"torrent_results":[]}`
	up.mu.Unlock()

	_, err = c.Search(context.Background(), models.SearchQuery{"mode": "list"})
	require.NoError(t, err)

	tokenCalls, _ := up.stats()
	assert.Equal(t, 2, tokenCalls)
}

func TestSearch_TokenFailureSkipsSearch(t *testing.T) {
	up := &fakeUpstream{tokenBody: `{"error":"Invalid app_id"}`}
	c := newTestClient(t, up)

	_, err := c.Search(context.Background(), models.SearchQuery{"mode": "list"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindUpstream, apiErr.Kind)
	assert.Equal(t, "Invalid app_id", apiErr.Message)

	_, searchCalls := up.stats()
	assert.Empty(t, searchCalls)
}

func TestSearch_TokenResponseWithoutToken(t *testing.T) {
	up := &fakeUpstream{tokenBody: `{}`}
	c := newTestClient(t, up)

	_, err := c.Search(context.Background(), models.SearchQuery{"mode": "list"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindParse, apiErr.Kind)
}

func TestSearch_CallsAreSpaced(t *testing.T) {
	interval := 40 * time.Millisecond
	up := &fakeUpstream{searchBody: `{"torrent_results":[]}`}
	c := newTestClient(t, up, func(cfg *Config) { cfg.RateInterval = interval })

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Search(context.Background(), models.SearchQuery{"mode": "list"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// One token call plus three searches share the limiter.
	assert.GreaterOrEqual(t, time.Since(start), 3*interval)
	tokenCalls, searchCalls := up.stats()
	assert.Equal(t, 1, tokenCalls)
	assert.Len(t, searchCalls, 3)
}

func TestSearch_TokenExpiredWhileQueuedIsRefreshed(t *testing.T) {
	up := &fakeUpstream{searchBody: `{"torrent_results":[]}`, numbered: true}
	c := newTestClient(t, up, func(cfg *Config) {
		cfg.RateInterval = 40 * time.Millisecond
		cfg.TokenTTL = 60 * time.Millisecond
	})

	// Token at t0, search slot at t40: still fresh.
	_, err := c.Search(context.Background(), models.SearchQuery{"mode": "list"})
	require.NoError(t, err)

	// The token is fresh on entry but its slot at t80 is past the TTL, so
	// the search refreshes before going out.
	_, err = c.Search(context.Background(), models.SearchQuery{"mode": "list"})
	require.NoError(t, err)

	tokenCalls, searchCalls := up.stats()
	assert.Equal(t, 2, tokenCalls)
	require.Len(t, searchCalls, 2)
	assert.Equal(t, "tok-1", searchCalls[0].Get("token"))
	assert.Equal(t, "tok-2", searchCalls[1].Get("token"))
}

func TestHealthCheck(t *testing.T) {
	up := &fakeUpstream{}
	c := newTestClient(t, up)

	require.NoError(t, c.HealthCheck(context.Background()))
	assert.Equal(t, token.Valid, c.Tokens().State())
	assert.Equal(t, "torrentapi", c.Name())
}

func TestAPIError_Messages(t *testing.T) {
	assert.Equal(t, "parse error: decoding response: boom",
		parseErr("decoding response", errors.New("boom")).Error())
	assert.Equal(t, "transport error: unexpected status 500",
		transportErr("unexpected status 500", nil).Error())

	wrapped := transportErr("request failed", context.DeadlineExceeded)
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
}
