package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantheonhq/pantheon/internal/airtable"
	"github.com/pantheonhq/pantheon/internal/pipeline/domain"
)

type fakeFetcher struct {
	records []airtable.Record
	err     error
	gotLoc  airtable.Locator
	gotOpts airtable.ListOptions
}

func (f *fakeFetcher) ListAllRecords(_ context.Context, loc airtable.Locator, opts airtable.ListOptions) ([]airtable.Record, error) {
	f.gotLoc = loc
	f.gotOpts = opts

	return f.records, f.err
}

type fakeCache struct {
	entries map[string][]airtable.Record
	err     error
}

func (c *fakeCache) SetRecords(_ context.Context, viewID string, records []airtable.Record) error {
	if c.err != nil {
		return c.err
	}
	if c.entries == nil {
		c.entries = map[string][]airtable.Record{}
	}
	c.entries[viewID] = records

	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunCachesFetchedRecords(t *testing.T) {
	fetcher := &fakeFetcher{
		records: []airtable.Record{
			{ID: "rec001", Fields: json.RawMessage(`{"Name":"Ada"}`)},
			{ID: "rec002", Fields: json.RawMessage(`{"Name":"Grace"}`)},
		},
	}
	cache := &fakeCache{}
	imp := NewImporter(fetcher, cache, testLogger())

	meta := domain.AirtableViewMetadata{
		Base:   "appX",
		Table:  "Volunteers",
		View:   "Active",
		Fields: []string{"Name", "Email"},
	}

	require.NoError(t, imp.Run(context.Background(), "12", meta))

	assert.Equal(t, airtable.Locator{Base: "appX", Table: "Volunteers", View: "Active"}, fetcher.gotLoc)
	assert.Equal(t, []string{"Name", "Email"}, fetcher.gotOpts.Fields)
	require.Len(t, cache.entries["12"], 2)
	assert.Equal(t, "rec001", cache.entries["12"][0].ID)
}

func TestRunLeavesCacheUntouchedOnFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: fmt.Errorf("upstream returned 503")}
	cache := &fakeCache{entries: map[string][]airtable.Record{
		"12": {{ID: "rec001"}},
	}}
	imp := NewImporter(fetcher, cache, testLogger())

	err := imp.Run(context.Background(), "12", domain.AirtableViewMetadata{Base: "appX", Table: "T"})
	require.Error(t, err)

	// The stale entry is still there.
	require.Len(t, cache.entries["12"], 1)
	assert.Equal(t, "rec001", cache.entries["12"][0].ID)
}

func TestRunSurfacesCacheFailure(t *testing.T) {
	fetcher := &fakeFetcher{records: []airtable.Record{{ID: "rec001"}}}
	cache := &fakeCache{err: fmt.Errorf("connection refused")}
	imp := NewImporter(fetcher, cache, testLogger())

	err := imp.Run(context.Background(), "12", domain.AirtableViewMetadata{Base: "appX", Table: "T"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to cache records")
}
