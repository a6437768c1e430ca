package models

import (
	"net/url"
	"time"
)

// SearchQuery holds upstream filter parameters (mode, search_string,
// search_imdb, category, ...). Credentials are added by the indexer.
type SearchQuery map[string]string

func (q SearchQuery) Values() url.Values {
	v := make(url.Values, len(q))
	for k, val := range q {
		v.Set(k, val)
	}
	return v
}

// Key is a stable, order independent form of the query for cache lookups.
func (q SearchQuery) Key() string {
	return q.Values().Encode()
}

// TorrentResult represents a single normalized torrent result
type TorrentResult struct {
	Title       string    `json:"title"`
	DownloadURI string    `json:"download_uri"`
	InfoHash    string    `json:"info_hash"`
	SizeBytes   int64     `json:"size_bytes"`
	HumanSize   string    `json:"human_size"`
	PublishedAt time.Time `json:"published_at"`
	Category    string    `json:"category,omitempty"`
	Seeders     int       `json:"seeders"`
	Leechers    int       `json:"leechers"`
	InfoPage    string    `json:"info_page,omitempty"`
	IMDb        string    `json:"imdb,omitempty"`
	TVDB        string    `json:"tvdb,omitempty"`
}

// HealthStatus represents system health
type HealthStatus struct {
	Status       string `json:"status"`
	Indexer      string `json:"indexer"`
	TokenState   string `json:"token_state"`
	CacheEnabled bool   `json:"cache_enabled"`
	Uptime       string `json:"uptime"`
	Error        string `json:"error,omitempty"`
}

// Stats represents process and upstream counters
type Stats struct {
	Uptime           string `json:"uptime"`
	Version          string `json:"version"`
	UpstreamRequests uint64 `json:"upstream_requests"`
	TokenRefreshes   uint64 `json:"token_refreshes"`
	CacheEnabled     bool   `json:"cache_enabled"`
	CacheSize        int    `json:"cache_size"`
	MemoryMB         uint64 `json:"memory_mb"`
	Goroutines       int    `json:"goroutines"`
}
