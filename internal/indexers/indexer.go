package indexers

import (
	"context"

	"github.com/lifekiller/rarbg/internal/models"
)

type Indexer interface {
	Name() string
	Search(ctx context.Context, query models.SearchQuery) ([]models.TorrentResult, error)
	HealthCheck(ctx context.Context) error
}
