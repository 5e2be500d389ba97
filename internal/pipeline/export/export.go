// Package export reconciles a set of candidate users against the
// accounts already provisioned in the directory. An export run walks the
// remaining candidates in order, provisions each one, and records every
// success before surfacing the first failure, so a re-run picks up where
// the previous one stopped.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pantheonhq/pantheon/internal/notify"
	"github.com/pantheonhq/pantheon/internal/pipeline/domain"
	"github.com/pantheonhq/pantheon/internal/workspace"
)

const (
	defaultThrottleEvery = 8
	defaultThrottlePause = 3 * time.Second
	recordTimeout        = 10 * time.Second
)

// Store is the persistence surface the reconciler needs.
type Store interface {
	FetchExportedUsers(ctx context.Context) ([]domain.ExportedUser, error)
	FetchExportedUsersByJob(ctx context.Context, jobID string) ([]domain.ExportedUser, error)
	SaveExportedUsers(ctx context.Context, users []domain.CreateExportedUser) error
	DeleteExportedUserByGeneratedEmail(ctx context.Context, generatedEmail string) error
	AppendJobMetadata(ctx context.Context, jobID string, key string, value interface{}) error
}

// Directory provisions and removes accounts in the external directory.
type Directory interface {
	CreateUser(ctx context.Context, asAdmin string, user workspace.CreateUser) error
	DeleteUser(ctx context.Context, asAdmin, primaryEmail string) error
}

// Config wires a Reconciler.
type Config struct {
	Store      Store
	Directory  Directory
	Notifier   notify.Sender
	Logger     *slog.Logger
	AdminEmail string

	// EmailDomain is the directory domain generated handles live under.
	EmailDomain string

	// SuffixFn overrides the numeric-suffix source. Nil means random.
	SuffixFn func() int

	// ThrottleEvery and ThrottlePause govern the pause inserted after
	// every Nth provisioning call. Zero values take the defaults.
	ThrottleEvery int
	ThrottlePause time.Duration
}

// Reconciler plans and executes exports against the directory.
type Reconciler struct {
	store     Store
	directory Directory
	notifier  notify.Sender
	logger    *slog.Logger

	adminEmail    string
	emails        *EmailGenerator
	throttleEvery int
	throttlePause time.Duration
}

// NewReconciler creates a reconciler from the given config.
func NewReconciler(cfg Config) *Reconciler {
	if cfg.ThrottleEvery <= 0 {
		cfg.ThrottleEvery = defaultThrottleEvery
	}
	if cfg.ThrottlePause <= 0 {
		cfg.ThrottlePause = defaultThrottlePause
	}

	return &Reconciler{
		store:         cfg.Store,
		directory:     cfg.Directory,
		notifier:      cfg.Notifier,
		logger:        cfg.Logger,
		adminEmail:    cfg.AdminEmail,
		emails:        NewEmailGenerator(cfg.EmailDomain, cfg.SuffixFn),
		throttleEvery: cfg.ThrottleEvery,
		throttlePause: cfg.ThrottlePause,
	}
}

// Plan returns the candidates that still need provisioning. A candidate
// counts as already exported when its (first name, last name, personal
// email) triple matches a persisted export record. Under the reject
// policy any conflict aborts the whole request with
// domain.ErrExportConflict before any side effect.
func (r *Reconciler) Plan(ctx context.Context, candidates []Candidate, policy ConflictPolicy) ([]Candidate, error) {
	exported, err := r.store.FetchExportedUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch exported users: %w", err)
	}

	type identity struct {
		firstName string
		lastName  string
		email     string
	}

	seen := make(map[identity]struct{}, len(exported))
	for _, u := range exported {
		seen[identity{u.FirstName, u.LastName, u.PersonalEmail}] = struct{}{}
	}

	remaining := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[identity{c.FirstName, c.LastName, c.Email}]; ok {
			continue
		}

		remaining = append(remaining, c)
	}

	if policy == ConflictPolicyReject && len(remaining) != len(candidates) {
		return nil, domain.ErrExportConflict
	}

	return remaining, nil
}

type notificationFailure struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// Export provisions one directory account per candidate, in order. The
// run halts on the first provisioning failure; accounts created before
// the failure are persisted either way, and the failed candidate and
// everything after it are left untouched. Notification failures are
// recorded on the job's metadata and never fail the run.
func (r *Reconciler) Export(ctx context.Context, jobID string, users []Candidate, emailPolicy EmailPolicy, passwordPolicy PasswordPolicy) error {
	created := make([]domain.CreateExportedUser, 0, len(users))
	var notifyFailures []notificationFailure

	// record runs on its own context: the run context may already be
	// expired, and accounts created in the directory must still end up
	// persisted as export records.
	record := func() error {
		saveCtx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		if len(notifyFailures) > 0 {
			if err := r.store.AppendJobMetadata(saveCtx, jobID, "notification_failures", notifyFailures); err != nil {
				r.logger.Error("Failed to record notification failures", slog.String("job_id", jobID), slog.Any("error", err))
			}
		}
		if len(created) == 0 {
			return nil
		}

		return r.store.SaveExportedUsers(saveCtx, created)
	}

	for i, u := range users {
		if i > 0 && i%r.throttleEvery == 0 {
			if err := sleep(ctx, r.throttlePause); err != nil {
				if saveErr := record(); saveErr != nil {
					r.logger.Error("Failed to persist exported users", slog.String("job_id", jobID), slog.Any("error", saveErr))
				}

				return err
			}
		}

		generatedEmail := r.emails.Generate(u.FirstName, u.LastName, emailPolicy)
		password, err := GeneratePassword(passwordPolicy.Length)
		if err != nil {
			if saveErr := record(); saveErr != nil {
				r.logger.Error("Failed to persist exported users", slog.String("job_id", jobID), slog.Any("error", saveErr))
			}

			return err
		}

		spec := workspace.CreateUser{
			PrimaryEmail: generatedEmail,
			Name: workspace.Name{
				GivenName:  u.FirstName,
				FamilyName: u.LastName,
			},
			Password:                  password,
			ChangePasswordAtNextLogin: passwordPolicy.ChangePasswordAtNextLogin,
		}

		if err := r.directory.CreateUser(ctx, r.adminEmail, spec); err != nil {
			if saveErr := record(); saveErr != nil {
				r.logger.Error("Failed to persist exported users", slog.String("job_id", jobID), slog.Any("error", saveErr))
			}

			return fmt.Errorf("failed to provision %s: %w", generatedEmail, err)
		}

		created = append(created, domain.CreateExportedUser{
			JobID:          jobID,
			FirstName:      u.FirstName,
			LastName:       u.LastName,
			PersonalEmail:  u.Email,
			GeneratedEmail: generatedEmail,
			ExportedFrom:   domain.DatasourceAirtable,
		})

		msg := notify.Message{
			To:      u.Email,
			Subject: "Your new workspace account",
			Body:    fmt.Sprintf("Your account %s has been created. Temporary password: %s", generatedEmail, password),
		}
		if err := r.notifier.Send(ctx, msg); err != nil {
			r.logger.Warn("Failed to send credential notification",
				slog.String("job_id", jobID),
				slog.String("generated_email", generatedEmail),
				slog.Any("error", err))
			notifyFailures = append(notifyFailures, notificationFailure{Email: generatedEmail, Error: err.Error()})
		}
	}

	return record()
}

// Undo removes every account the given export job provisioned. Each
// directory deletion is followed by the removal of its export record, so
// an interrupted undo can be re-run and a second undo of the same job is
// a no-op.
func (r *Reconciler) Undo(ctx context.Context, exportJobID string) error {
	exported, err := r.store.FetchExportedUsersByJob(ctx, exportJobID)
	if err != nil {
		return fmt.Errorf("failed to fetch exported users for job %s: %w", exportJobID, err)
	}

	for _, u := range exported {
		if err := r.directory.DeleteUser(ctx, r.adminEmail, u.GeneratedEmail); err != nil {
			return fmt.Errorf("failed to delete directory account %s: %w", u.GeneratedEmail, err)
		}

		if err := r.store.DeleteExportedUserByGeneratedEmail(ctx, u.GeneratedEmail); err != nil {
			return fmt.Errorf("failed to delete export record %s: %w", u.GeneratedEmail, err)
		}
	}

	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
