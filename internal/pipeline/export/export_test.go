package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantheonhq/pantheon/internal/notify"
	"github.com/pantheonhq/pantheon/internal/pipeline/domain"
	"github.com/pantheonhq/pantheon/internal/workspace"
)

type fakeStore struct {
	exported []domain.ExportedUser
	saved    []domain.CreateExportedUser
	deleted  []string
	metadata map[string]interface{}
}

func (s *fakeStore) FetchExportedUsers(_ context.Context) ([]domain.ExportedUser, error) {
	return s.exported, nil
}

func (s *fakeStore) FetchExportedUsersByJob(_ context.Context, jobID string) ([]domain.ExportedUser, error) {
	var out []domain.ExportedUser
	for _, u := range s.exported {
		if u.JobID == jobID {
			out = append(out, u)
		}
	}

	return out, nil
}

func (s *fakeStore) SaveExportedUsers(_ context.Context, users []domain.CreateExportedUser) error {
	s.saved = append(s.saved, users...)
	return nil
}

func (s *fakeStore) DeleteExportedUserByGeneratedEmail(_ context.Context, generatedEmail string) error {
	s.deleted = append(s.deleted, generatedEmail)

	kept := s.exported[:0]
	for _, u := range s.exported {
		if u.GeneratedEmail != generatedEmail {
			kept = append(kept, u)
		}
	}
	s.exported = kept

	return nil
}

func (s *fakeStore) AppendJobMetadata(_ context.Context, _, key string, value interface{}) error {
	if s.metadata == nil {
		s.metadata = map[string]interface{}{}
	}
	s.metadata[key] = value

	return nil
}

type fakeDirectory struct {
	created   []workspace.CreateUser
	deleted   []string
	failEmail string
}

func (d *fakeDirectory) CreateUser(_ context.Context, _ string, user workspace.CreateUser) error {
	if d.failEmail != "" && strings.HasPrefix(user.PrimaryEmail, d.failEmail) {
		return fmt.Errorf("directory rejected %s", user.PrimaryEmail)
	}

	d.created = append(d.created, user)

	return nil
}

func (d *fakeDirectory) DeleteUser(_ context.Context, _, primaryEmail string) error {
	d.deleted = append(d.deleted, primaryEmail)
	return nil
}

type fakeNotifier struct {
	sent   []notify.Message
	failTo string
}

func (n *fakeNotifier) Send(_ context.Context, msg notify.Message) error {
	if n.failTo != "" && msg.To == n.failTo {
		return fmt.Errorf("broker unavailable")
	}

	n.sent = append(n.sent, msg)

	return nil
}

func testReconciler(store *fakeStore, dir *fakeDirectory, notifier *fakeNotifier) *Reconciler {
	return NewReconciler(Config{
		Store:         store,
		Directory:     dir,
		Notifier:      notifier,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		AdminEmail:    "admin@corp.test",
		EmailDomain:   "corp.test",
		SuffixFn:      func() int { return 42 },
		ThrottlePause: time.Millisecond,
	})
}

func candidate(n int) Candidate {
	return Candidate{
		FirstName: fmt.Sprintf("First%d", n),
		LastName:  fmt.Sprintf("Last%d", n),
		Email:     fmt.Sprintf("user%d@personal.test", n),
	}
}

func TestPlanExportDifference(t *testing.T) {
	store := &fakeStore{
		exported: []domain.ExportedUser{
			{FirstName: "First1", LastName: "Last1", PersonalEmail: "user1@personal.test"},
			{FirstName: "First3", LastName: "Last3", PersonalEmail: "user3@personal.test"},
		},
	}
	r := testReconciler(store, &fakeDirectory{}, &fakeNotifier{})

	candidates := []Candidate{candidate(1), candidate(2), candidate(3), candidate(4)}

	remaining, err := r.Plan(context.Background(), candidates, ConflictPolicyExportDifference)
	require.NoError(t, err)

	require.Len(t, remaining, 2)
	assert.Equal(t, "First2", remaining[0].FirstName)
	assert.Equal(t, "First4", remaining[1].FirstName)
}

func TestPlanRejectAbortsWithoutSideEffects(t *testing.T) {
	store := &fakeStore{
		exported: []domain.ExportedUser{
			{FirstName: "First1", LastName: "Last1", PersonalEmail: "user1@personal.test"},
		},
	}
	dir := &fakeDirectory{}
	r := testReconciler(store, dir, &fakeNotifier{})

	_, err := r.Plan(context.Background(), []Candidate{candidate(1), candidate(2)}, ConflictPolicyReject)
	require.ErrorIs(t, err, domain.ErrExportConflict)

	assert.Empty(t, dir.created)
	assert.Empty(t, store.saved)
}

func TestPlanRejectPassesWhenAllNew(t *testing.T) {
	r := testReconciler(&fakeStore{}, &fakeDirectory{}, &fakeNotifier{})

	remaining, err := r.Plan(context.Background(), []Candidate{candidate(1), candidate(2)}, ConflictPolicyReject)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestPlanMatchesOnFullTriple(t *testing.T) {
	// Same name but a different personal email is a different person.
	store := &fakeStore{
		exported: []domain.ExportedUser{
			{FirstName: "First1", LastName: "Last1", PersonalEmail: "other@personal.test"},
		},
	}
	r := testReconciler(store, &fakeDirectory{}, &fakeNotifier{})

	remaining, err := r.Plan(context.Background(), []Candidate{candidate(1)}, ConflictPolicyExportDifference)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestExportProvisionsAndNotifies(t *testing.T) {
	store := &fakeStore{}
	dir := &fakeDirectory{}
	notifier := &fakeNotifier{}
	r := testReconciler(store, dir, notifier)

	err := r.Export(context.Background(), "7", []Candidate{candidate(1), candidate(2)},
		EmailPolicy{Separator: ".", AddUniqueNumericSuffix: true},
		PasswordPolicy{Length: 12, ChangePasswordAtNextLogin: true})
	require.NoError(t, err)

	require.Len(t, dir.created, 2)
	assert.Equal(t, "first1.last142@corp.test", dir.created[0].PrimaryEmail)
	assert.Len(t, dir.created[0].Password, 12)
	assert.True(t, dir.created[0].ChangePasswordAtNextLogin)

	require.Len(t, store.saved, 2)
	assert.Equal(t, "7", store.saved[0].JobID)
	assert.Equal(t, "user1@personal.test", store.saved[0].PersonalEmail)
	assert.Equal(t, domain.DatasourceAirtable, store.saved[0].ExportedFrom)

	require.Len(t, notifier.sent, 2)
	assert.Equal(t, "user1@personal.test", notifier.sent[0].To)
	assert.Contains(t, notifier.sent[0].Body, "first1.last142@corp.test")
}

func TestExportHaltsOnFailureAndKeepsPriorSuccesses(t *testing.T) {
	store := &fakeStore{}
	dir := &fakeDirectory{failEmail: "first2.last2"}
	r := testReconciler(store, dir, &fakeNotifier{})

	err := r.Export(context.Background(), "7", []Candidate{candidate(1), candidate(2), candidate(3)},
		EmailPolicy{Separator: "."}, PasswordPolicy{Length: 8})
	require.Error(t, err)

	// Only the first candidate got provisioned and persisted. The third
	// was never attempted.
	require.Len(t, dir.created, 1)
	assert.Equal(t, "first1.last1@corp.test", dir.created[0].PrimaryEmail)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "user1@personal.test", store.saved[0].PersonalEmail)
}

func TestExportNotificationFailureIsNonFatal(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{failTo: "user1@personal.test"}
	r := testReconciler(store, &fakeDirectory{}, notifier)

	err := r.Export(context.Background(), "7", []Candidate{candidate(1), candidate(2)},
		EmailPolicy{Separator: "."}, PasswordPolicy{Length: 8})
	require.NoError(t, err)

	assert.Len(t, store.saved, 2)
	assert.Len(t, notifier.sent, 1)

	failures, ok := store.metadata["notification_failures"].([]notificationFailure)
	require.True(t, ok)
	require.Len(t, failures, 1)
	assert.Equal(t, "first1.last1@corp.test", failures[0].Email)
}

// ctxBoundStore refuses writes once the given context is dead, the way
// a real database round trip would.
type ctxBoundStore struct {
	fakeStore
}

func (s *ctxBoundStore) SaveExportedUsers(ctx context.Context, users []domain.CreateExportedUser) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.fakeStore.SaveExportedUsers(ctx, users)
}

func (s *ctxBoundStore) AppendJobMetadata(ctx context.Context, jobID, key string, value interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.fakeStore.AppendJobMetadata(ctx, jobID, key, value)
}

// cancellingDirectory kills the run context right after its first
// successful provisioning call.
type cancellingDirectory struct {
	created []workspace.CreateUser
	cancel  context.CancelFunc
}

func (d *cancellingDirectory) CreateUser(ctx context.Context, _ string, user workspace.CreateUser) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.created = append(d.created, user)
	d.cancel()

	return nil
}

func (d *cancellingDirectory) DeleteUser(_ context.Context, _, _ string) error {
	return nil
}

func TestExportPersistsSuccessesAfterRunContextExpires(t *testing.T) {
	store := &ctxBoundStore{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := &cancellingDirectory{cancel: cancel}

	r := NewReconciler(Config{
		Store:         store,
		Directory:     dir,
		Notifier:      &fakeNotifier{},
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		AdminEmail:    "admin@corp.test",
		EmailDomain:   "corp.test",
		SuffixFn:      func() int { return 42 },
		ThrottlePause: time.Millisecond,
	})

	err := r.Export(ctx, "7", []Candidate{candidate(1), candidate(2)},
		EmailPolicy{Separator: "."}, PasswordPolicy{Length: 8})
	require.ErrorIs(t, err, context.Canceled)

	// The run context died between the two candidates. The account
	// already created must still be recorded, or it would be invisible
	// to conflict detection and to undo.
	require.Len(t, dir.created, 1)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "first1.last1@corp.test", store.saved[0].GeneratedEmail)
}

func TestExportStopsAtThrottleWhenContextCancelled(t *testing.T) {
	store := &fakeStore{}
	dir := &fakeDirectory{}
	r := testReconciler(store, dir, &fakeNotifier{})
	r.throttleEvery = 2

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Export(ctx, "7", []Candidate{candidate(1), candidate(2), candidate(3)},
		EmailPolicy{Separator: "."}, PasswordPolicy{Length: 8})
	require.ErrorIs(t, err, context.Canceled)

	// The pause sits before the third candidate. The first two completed
	// and were persisted.
	assert.Len(t, dir.created, 2)
	assert.Len(t, store.saved, 2)
}

func TestUndoRoundTrip(t *testing.T) {
	store := &fakeStore{}
	dir := &fakeDirectory{}
	r := testReconciler(store, dir, &fakeNotifier{})

	err := r.Export(context.Background(), "7", []Candidate{candidate(1), candidate(2)},
		EmailPolicy{Separator: "."}, PasswordPolicy{Length: 8})
	require.NoError(t, err)

	for _, u := range store.saved {
		store.exported = append(store.exported, domain.ExportedUser{
			JobID:          u.JobID,
			FirstName:      u.FirstName,
			LastName:       u.LastName,
			PersonalEmail:  u.PersonalEmail,
			GeneratedEmail: u.GeneratedEmail,
			ExportedFrom:   u.ExportedFrom,
		})
	}

	require.NoError(t, r.Undo(context.Background(), "7"))

	assert.ElementsMatch(t, []string{"first1.last1@corp.test", "first2.last2@corp.test"}, dir.deleted)
	assert.Empty(t, store.exported)

	// Undoing the same job again finds nothing and touches nothing.
	dir.deleted = nil
	require.NoError(t, r.Undo(context.Background(), "7"))
	assert.Empty(t, dir.deleted)
}

func TestUndoOnlyTargetsOwnJob(t *testing.T) {
	store := &fakeStore{
		exported: []domain.ExportedUser{
			{JobID: "7", GeneratedEmail: "a@corp.test"},
			{JobID: "8", GeneratedEmail: "b@corp.test"},
		},
	}
	dir := &fakeDirectory{}
	r := testReconciler(store, dir, &fakeNotifier{})

	require.NoError(t, r.Undo(context.Background(), "7"))

	assert.Equal(t, []string{"a@corp.test"}, dir.deleted)
	require.Len(t, store.exported, 1)
	assert.Equal(t, "b@corp.test", store.exported[0].GeneratedEmail)
}

func TestGenerateEmail(t *testing.T) {
	gen := NewEmailGenerator("corp.test", func() int { return 7 })

	tests := []struct {
		name      string
		firstName string
		lastName  string
		policy    EmailPolicy
		want      string
	}{
		{
			name:      "separator with suffix",
			firstName: "Ada",
			lastName:  "Lovelace",
			policy:    EmailPolicy{Separator: ".", AddUniqueNumericSuffix: true},
			want:      "ada.lovelace07@corp.test",
		},
		{
			name:      "no suffix",
			firstName: "Ada",
			lastName:  "Lovelace",
			policy:    EmailPolicy{Separator: "_"},
			want:      "ada_lovelace@corp.test",
		},
		{
			name:      "trims and lowercases",
			firstName: "  Ada ",
			lastName:  " LOVELACE",
			policy:    EmailPolicy{Separator: "."},
			want:      "ada.lovelace@corp.test",
		},
		{
			name:      "empty separator",
			firstName: "Ada",
			lastName:  "Lovelace",
			policy:    EmailPolicy{},
			want:      "adalovelace@corp.test",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gen.Generate(tt.firstName, tt.lastName, tt.policy))
		})
	}
}

func TestGeneratePassword(t *testing.T) {
	pw, err := GeneratePassword(16)
	require.NoError(t, err)
	require.Len(t, pw, 16)

	for _, c := range pw {
		assert.Contains(t, passwordAlphabet, string(c))
	}

	other, err := GeneratePassword(16)
	require.NoError(t, err)
	assert.NotEqual(t, pw, other)
}
