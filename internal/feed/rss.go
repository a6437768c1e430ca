// Package feed renders normalized torrent results as an RSS 2.0 document.
package feed

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gorilla/feeds"
	"github.com/lifekiller/rarbg/internal/models"
)

// TorrentMIME is the enclosure type torrent clients look for.
const TorrentMIME = "application/x-bittorrent"

type Renderer struct {
	Link        string
	Description string
	now         func() time.Time
}

type Option func(*Renderer)

func WithClock(now func() time.Time) Option {
	return func(r *Renderer) { r.now = now }
}

func NewRenderer(link, description string, opts ...Option) *Renderer {
	r := &Renderer{
		Link:        link,
		Description: description,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Feed builds the channel with one item per result, in order.
func (r *Renderer) Feed(title string, results []models.TorrentResult) *feeds.RssFeed {
	built := r.now().UTC()

	channel := &feeds.RssFeed{
		Title:         title,
		Link:          r.Link,
		Description:   r.Description,
		LastBuildDate: built.Format(time.RFC1123Z),
		Items:         make([]*feeds.RssItem, 0, len(results)),
	}

	for _, res := range results {
		published := res.PublishedAt
		if published.IsZero() {
			published = built
		}

		channel.Items = append(channel.Items, &feeds.RssItem{
			Title:       fmt.Sprintf("%s [%s]", res.Title, res.HumanSize),
			Link:        res.DownloadURI,
			Description: fmt.Sprintf("%s, %d seeders, %d leechers", res.HumanSize, res.Seeders, res.Leechers),
			Category:    res.Category,
			Comments:    res.InfoPage,
			Enclosure: &feeds.RssEnclosure{
				Url:    res.DownloadURI,
				Length: strconv.FormatInt(res.SizeBytes, 10),
				Type:   TorrentMIME,
			},
			Guid:    &feeds.RssGuid{Id: res.InfoHash, IsPermaLink: "false"},
			PubDate: published.Format(time.RFC1123Z),
		})
	}
	return channel
}

// Render writes the feed as an XML document.
func (r *Renderer) Render(w io.Writer, title string, results []models.TorrentResult) error {
	if err := feeds.WriteXML(r.Feed(title, results), w); err != nil {
		return fmt.Errorf("encoding rss: %w", err)
	}
	return nil
}

func (r *Renderer) Bytes(title string, results []models.TorrentResult) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Render(&buf, title, results); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
