package adapter

import (
	"time"

	"github.com/lifekiller/rarbg/internal/models"
)

// JackettResult adapts our TorrentResult to Jackett's format
type JackettResult struct {
	Title                string    `json:"Title"`
	Link                 string    `json:"Link,omitempty"`
	MagnetURI            string    `json:"MagnetUri,omitempty"`
	InfoHash             string    `json:"InfoHash,omitempty"`
	Size                 int64     `json:"Size"`
	Seeders              int       `json:"Seeders"`
	Leechers             int       `json:"Leechers"`
	Category             string    `json:"CategoryDesc,omitempty"`
	PublishDate          time.Time `json:"PublishDate"`
	Tracker              string    `json:"Tracker,omitempty"`
	Details              string    `json:"Details,omitempty"`
	Imdb                 string    `json:"Imdb,omitempty"`
	TVDBId               string    `json:"TVDBId,omitempty"`
	DownloadVolumeFactor float64   `json:"DownloadVolumeFactor"`
	UploadVolumeFactor   float64   `json:"UploadVolumeFactor"`
}

// JackettResponse is the response format compatible with Jackett
type JackettResponse struct {
	Results []JackettResult `json:"Results"`
}

// ToJackettFormat converts normalized results for clients that speak
// Jackett's JSON API instead of RSS.
func ToJackettFormat(tracker string, results []models.TorrentResult) JackettResponse {
	jackettResults := make([]JackettResult, 0, len(results))

	for _, r := range results {
		jackettResults = append(jackettResults, JackettResult{
			Title:                r.Title,
			Link:                 r.DownloadURI,
			MagnetURI:            r.DownloadURI,
			InfoHash:             r.InfoHash,
			Size:                 r.SizeBytes,
			Seeders:              r.Seeders,
			Leechers:             r.Leechers,
			Category:             r.Category,
			PublishDate:          r.PublishedAt,
			Tracker:              tracker,
			Details:              r.InfoPage,
			Imdb:                 r.IMDb,
			TVDBId:               r.TVDB,
			DownloadVolumeFactor: 1.0,
			UploadVolumeFactor:   1.0,
		})
	}

	return JackettResponse{
		Results: jackettResults,
	}
}
