// Package importer refreshes the cached record set of a datasource view
// from its upstream source.
package importer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pantheonhq/pantheon/internal/airtable"
	"github.com/pantheonhq/pantheon/internal/pipeline/domain"
)

// Fetcher pulls every record of one view from the upstream API.
type Fetcher interface {
	ListAllRecords(ctx context.Context, loc airtable.Locator, opts airtable.ListOptions) ([]airtable.Record, error)
}

// Cache stores the fetched record set, replacing whatever was there.
type Cache interface {
	SetRecords(ctx context.Context, viewID string, records []airtable.Record) error
}

// Importer runs import_data jobs.
type Importer struct {
	fetcher Fetcher
	cache   Cache
	logger  *slog.Logger
}

// NewImporter creates an importer over the given fetcher and cache.
func NewImporter(fetcher Fetcher, cache Cache, logger *slog.Logger) *Importer {
	return &Importer{
		fetcher: fetcher,
		cache:   cache,
		logger:  logger,
	}
}

// Run fetches the full record set described by the view metadata and
// replaces the cached copy wholesale. Nothing is written when the fetch
// fails, so a stale cache entry survives a bad refresh.
func (i *Importer) Run(ctx context.Context, viewID string, meta domain.AirtableViewMetadata) error {
	loc := airtable.Locator{
		Base:  meta.Base,
		Table: meta.Table,
		View:  meta.View,
	}

	records, err := i.fetcher.ListAllRecords(ctx, loc, airtable.ListOptions{Fields: meta.Fields})
	if err != nil {
		return fmt.Errorf("failed to fetch records for view %s: %w", viewID, err)
	}

	if err := i.cache.SetRecords(ctx, viewID, records); err != nil {
		return fmt.Errorf("failed to cache records for view %s: %w", viewID, err)
	}

	i.logger.Info("Refreshed datasource view",
		slog.String("datasource_view_id", viewID),
		slog.Int("records", len(records)),
	)

	return nil
}
