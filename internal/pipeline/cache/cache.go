// Package cache stores previously fetched record sets and derived payloads
// keyed by datasource view, so repeated reads avoid redundant external
// calls. Writes replace the prior value wholesale; there is no TTL and no
// cross-key transactionality.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pantheonhq/pantheon/internal/airtable"
)

// ErrCorruptEntry is returned when a cache hit fails to deserialize into
// the expected shape. Callers must evict the entry and surface a server
// error: a corrupt hit is never treated as a miss, and never served as-is.
var ErrCorruptEntry = errors.New("cached payload does not match the expected shape")

// KV is the narrow key/value contract the cache is built over. The shared
// Redis client satisfies it; tests use an in-memory fake.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, key string) error
}

// Store is the pipeline's result cache.
type Store struct {
	kv     KV
	logger *slog.Logger
}

// NewStore creates a new cache store.
func NewStore(kv KV, logger *slog.Logger) *Store {
	return &Store{
		kv:     kv,
		logger: logger,
	}
}

func recordsKey(viewID string) string {
	return "datasource_view:" + viewID
}

// GetRecords returns the cached record set for a view. The second return
// value reports whether an entry existed. A connectivity failure
// propagates as an error, never as a miss.
func (s *Store) GetRecords(ctx context.Context, viewID string) ([]airtable.Record, bool, error) {
	value, found, err := s.kv.Get(ctx, recordsKey(viewID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached records: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	var records []airtable.Record
	if err := json.Unmarshal(value, &records); err != nil {
		s.logger.Warn("Cached payload failed to deserialize",
			slog.String("view_id", viewID),
			slog.String("error", err.Error()),
		)
		return nil, true, ErrCorruptEntry
	}

	return records, true, nil
}

// SetRecords replaces the cached record set for a view.
func (s *Store) SetRecords(ctx context.Context, viewID string, records []airtable.Record) error {
	value, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to serialize records: %w", err)
	}

	if err := s.kv.Set(ctx, recordsKey(viewID), value); err != nil {
		return fmt.Errorf("failed to write cached records: %w", err)
	}

	s.logger.Debug("Cached records updated",
		slog.String("view_id", viewID),
		slog.Int("records", len(records)),
	)

	return nil
}

// Evict removes the entry for a view. Used to discard malformed entries.
func (s *Store) Evict(ctx context.Context, viewID string) error {
	if err := s.kv.Del(ctx, recordsKey(viewID)); err != nil {
		return fmt.Errorf("failed to evict cached records: %w", err)
	}

	s.logger.Info("Cache entry evicted",
		slog.String("view_id", viewID),
	)

	return nil
}
