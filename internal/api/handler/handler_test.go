package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/pantheonhq/pantheon/internal/airtable"
	"github.com/pantheonhq/pantheon/internal/pipeline/cache"
	"github.com/pantheonhq/pantheon/internal/pipeline/domain"
	"github.com/pantheonhq/pantheon/internal/pipeline/export"
	"github.com/pantheonhq/pantheon/internal/pipeline/runner"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStorage struct {
	views      map[string]*domain.DatasourceView
	jobs       map[string]*domain.Job
	jobsByView map[string][]domain.Job
	jobErrors  map[string][]domain.JobError
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		views:      map[string]*domain.DatasourceView{},
		jobs:       map[string]*domain.Job{},
		jobsByView: map[string][]domain.Job{},
		jobErrors:  map[string][]domain.JobError{},
	}
}

func (s *fakeStorage) CreateOrFetchUser(_ context.Context, _ domain.CreateUser) (string, error) {
	return "1", nil
}

func (s *fakeStorage) CreateDatasourceView(_ context.Context, data domain.CreateDatasourceView) (string, error) {
	id := "10"
	s.views[id] = &domain.DatasourceView{
		ID:          id,
		UserID:      data.UserID,
		Name:        data.Name,
		Datasource:  data.Datasource,
		Description: data.Description,
		Metadata:    data.Metadata,
	}

	return id, nil
}

func (s *fakeStorage) EditDatasourceView(_ context.Context, viewID string, data domain.EditDatasourceView) error {
	view, ok := s.views[viewID]
	if !ok {
		return domain.ErrViewNotFound
	}
	view.Name = data.Name
	view.Description = data.Description
	view.Metadata = data.Metadata

	return nil
}

func (s *fakeStorage) DeleteDatasourceView(_ context.Context, viewID string) error {
	if _, ok := s.views[viewID]; !ok {
		return domain.ErrViewNotFound
	}
	for _, job := range s.jobsByView[viewID] {
		if job.Status == domain.JobStatusPending {
			return domain.ErrViewHasPendingJob
		}
	}
	delete(s.views, viewID)

	return nil
}

func (s *fakeStorage) FetchDatasourceView(_ context.Context, viewID string) (*domain.DatasourceView, error) {
	view, ok := s.views[viewID]
	if !ok {
		return nil, domain.ErrViewNotFound
	}

	return view, nil
}

func (s *fakeStorage) FetchDatasourceViews(_ context.Context) ([]domain.DatasourceView, error) {
	var out []domain.DatasourceView
	for _, v := range s.views {
		out = append(out, *v)
	}

	return out, nil
}

func (s *fakeStorage) FetchJob(_ context.Context, jobID string) (*domain.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	return job, nil
}

func (s *fakeStorage) FetchJobs(_ context.Context) ([]domain.Job, error) {
	var out []domain.Job
	for _, j := range s.jobs {
		out = append(out, *j)
	}

	return out, nil
}

func (s *fakeStorage) FetchJobsForView(_ context.Context, viewID string) ([]domain.Job, error) {
	return s.jobsByView[viewID], nil
}

func (s *fakeStorage) FetchJobErrors(_ context.Context, jobID string) ([]domain.JobError, error) {
	return s.jobErrors[jobID], nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]airtable.Record
	corrupt map[string]bool
	evicted []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries: map[string][]airtable.Record{},
		corrupt: map[string]bool{},
	}
}

func (c *fakeCache) GetRecords(_ context.Context, viewID string) ([]airtable.Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.corrupt[viewID] {
		return nil, true, cache.ErrCorruptEntry
	}
	records, ok := c.entries[viewID]

	return records, ok, nil
}

func (c *fakeCache) Evict(_ context.Context, viewID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evicted = append(c.evicted, viewID)
	delete(c.entries, viewID)
	delete(c.corrupt, viewID)

	return nil
}

// fakeRunner records starts without spawning goroutines. The work
// closure is not executed; handler tests only care about the request
// side of job creation.
type fakeRunner struct {
	mu      sync.Mutex
	started []runner.StartParams
	err     error
	nextID  string
}

func (r *fakeRunner) StartJob(_ context.Context, params runner.StartParams, _ runner.Work) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return "", r.err
	}
	r.started = append(r.started, params)
	if r.nextID == "" {
		r.nextID = "42"
	}

	return r.nextID, nil
}

type fakeExporter struct {
	planRemaining []export.Candidate
	planErr       error
	undoCalls     []string
}

func (e *fakeExporter) Plan(_ context.Context, candidates []export.Candidate, policy export.ConflictPolicy) ([]export.Candidate, error) {
	if e.planErr != nil {
		return nil, e.planErr
	}
	if e.planRemaining != nil {
		return e.planRemaining, nil
	}

	return candidates, nil
}

func (e *fakeExporter) Export(_ context.Context, _ string, _ []export.Candidate, _ export.EmailPolicy, _ export.PasswordPolicy) error {
	return nil
}

func (e *fakeExporter) Undo(_ context.Context, exportJobID string) error {
	e.undoCalls = append(e.undoCalls, exportJobID)
	return nil
}

type fakeImporter struct{}

func (fakeImporter) Run(_ context.Context, _ string, _ domain.AirtableViewMetadata) error {
	return nil
}

func testView(id string) *domain.DatasourceView {
	meta, _ := json.Marshal(domain.AirtableViewMetadata{Base: "appX", Table: "Volunteers", View: "Active"})

	return &domain.DatasourceView{
		ID:         id,
		UserID:     "1",
		Name:       "volunteers",
		Datasource: domain.DatasourceAirtable,
		Metadata:   meta,
	}
}
