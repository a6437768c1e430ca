package torrentapi

import (
	"github.com/lifekiller/rarbg/internal/format"
	"github.com/lifekiller/rarbg/internal/models"
)

func normalize(raw []rawTorrent) []models.TorrentResult {
	results := make([]models.TorrentResult, 0, len(raw))

	for _, r := range raw {
		title := r.Title
		if title == "" {
			title = r.Filename
		}

		// Unparseable dates stay zero; the feed renderer substitutes build time.
		published, _ := format.ParseDate(r.PubDate)

		res := models.TorrentResult{
			Title:       title,
			DownloadURI: r.Download,
			InfoHash:    format.InfoHash(r.Download),
			SizeBytes:   r.Size,
			HumanSize:   format.HumanSize(r.Size),
			PublishedAt: published,
			Category:    r.Category,
			Seeders:     r.Seeders,
			Leechers:    r.Leechers,
			InfoPage:    r.InfoPage,
		}
		if r.Episode != nil {
			res.IMDb = string(r.Episode.IMDb)
			res.TVDB = string(r.Episode.TVDB)
		}

		results = append(results, res)
	}

	return results
}
