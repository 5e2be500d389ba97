// Package runner bridges synchronous request handling and asynchronous
// pipeline execution. It enforces the one-pending-job-per-view rule and
// guarantees that every spawned run resolves its job to a terminal state.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pantheonhq/pantheon/internal/pipeline/domain"
)

const (
	defaultRunTimeout      = 15 * time.Minute
	defaultFinalizeTimeout = 10 * time.Second
)

// Store is the slice of the job store the runner needs.
type Store interface {
	CreateOrFetchUser(ctx context.Context, data domain.CreateUser) (string, error)
	FetchJobsForView(ctx context.Context, viewID string) ([]domain.Job, error)
	CreateJobForView(ctx context.Context, data domain.CreateJobForView) (jobID, linkID string, err error)
	MarkJobComplete(ctx context.Context, jobID string) error
	MarkJobErrored(ctx context.Context, jobID string, payload json.RawMessage) error
}

// Work is one pipeline step. It runs detached from the originating
// request, receives the id of the job tracking it, and must honor ctx
// deadlines on its external calls.
type Work func(ctx context.Context, jobID string) error

// StartParams describes the job to create.
type StartParams struct {
	Kind     domain.JobKind
	ViewID   string
	Actor    domain.CreateUser
	Metadata map[string]interface{}
}

// Config holds runner configuration.
type Config struct {
	Logger *slog.Logger
	Store  Store

	// RunTimeout bounds one pipeline run end to end.
	RunTimeout time.Duration
}

// Runner spawns detached pipeline runs and reconciles job status when
// they finish. Once started, a run is not cancellable; it is allowed to
// proceed to completion or failure on its own.
type Runner struct {
	logger     *slog.Logger
	store      Store
	registry   *Registry
	runTimeout time.Duration
}

// New creates a new Runner.
func New(cfg *Config) *Runner {
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}

	return &Runner{
		logger:     cfg.Logger,
		store:      cfg.Store,
		registry:   NewRegistry(),
		runTimeout: runTimeout,
	}
}

// Registry exposes the in-flight run registry for observability.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// StartJob resolves the acting user, rejects the request if the view
// already owns a pending job, creates the job row plus its view
// association atomically, and launches work on a detached context. The
// new job id is returned immediately; callers observe progress by
// polling the store.
func (r *Runner) StartJob(ctx context.Context, params StartParams, work Work) (string, error) {
	userID, err := r.store.CreateOrFetchUser(ctx, params.Actor)
	if err != nil {
		return "", fmt.Errorf("failed to resolve acting user: %w", err)
	}

	// Fast-path conflict check. The store's create repeats it under a
	// per-view lock, which closes the window between this read and the
	// insert below.
	jobs, err := r.store.FetchJobsForView(ctx, params.ViewID)
	if err != nil {
		return "", fmt.Errorf("failed to check jobs for view: %w", err)
	}
	for _, job := range jobs {
		if job.Status == domain.JobStatusPending {
			return "", domain.ErrPendingJobExists
		}
	}

	// Annotate a copy; the caller's map stays untouched.
	metadata := make(map[string]interface{}, len(params.Metadata)+1)
	for k, v := range params.Metadata {
		metadata[k] = v
	}
	metadata["datasource_view_id"] = params.ViewID

	encoded, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job metadata: %w", err)
	}

	jobID, _, err := r.store.CreateJobForView(ctx, domain.CreateJobForView{
		UserID:   userID,
		Kind:     params.Kind,
		Metadata: encoded,
		ViewID:   params.ViewID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrPendingJobExists) {
			return "", err
		}
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	r.registry.Insert(&Handle{
		JobID:     jobID,
		Kind:      params.Kind,
		ViewID:    params.ViewID,
		StartedAt: time.Now(),
	})

	// The run must survive the originating request, so it gets a fresh
	// context bounded only by the run timeout.
	runCtx, cancel := context.WithTimeout(context.Background(), r.runTimeout)

	go func() {
		defer cancel()
		defer r.registry.Remove(jobID)
		r.run(runCtx, jobID, work)
	}()

	r.logger.Info("Job started",
		slog.String("job_id", jobID),
		slog.String("job_type", string(params.Kind)),
		slog.String("view_id", params.ViewID),
	)

	return jobID, nil
}

// run executes work and finalizes the job exactly once, on every exit
// path. A panic inside work is converted to a job error rather than
// taking down the process: an unfinalized job would leak a permanent
// pending row and block the single-flight check for its view forever.
func (r *Runner) run(ctx context.Context, jobID string, work Work) {
	var workErr error

	defer func() {
		if p := recover(); p != nil {
			workErr = fmt.Errorf("job run panicked: %v", p)
		}
		r.finalize(jobID, workErr)
	}()

	workErr = work(ctx, jobID)
}

// finalize records the terminal transition for a run. It uses its own
// context: the run context may already be expired, and the transition
// must still be attempted.
func (r *Runner) finalize(jobID string, workErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultFinalizeTimeout)
	defer cancel()

	if workErr == nil {
		if err := r.store.MarkJobComplete(ctx, jobID); err != nil {
			r.logger.Error("Failed to mark job complete",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	r.logger.Error("Job run failed",
		slog.String("job_id", jobID),
		slog.String("error", workErr.Error()),
	)

	payload, err := json.Marshal(map[string]string{"message": workErr.Error()})
	if err != nil {
		payload = json.RawMessage(`{"message":"job run failed"}`)
	}

	if err := r.store.MarkJobErrored(ctx, jobID, payload); err != nil {
		r.logger.Error("Failed to mark job errored",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}
