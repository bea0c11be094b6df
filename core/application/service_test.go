package application

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/maombi/core"
	"github.com/trezcool/maombi/core/program"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...interface{}) {}
func (nopLogger) Info(msg string, args ...interface{})  {}
func (nopLogger) Warn(msg string, args ...interface{})  {}
func (nopLogger) Error(msg string, args ...interface{}) {}
func (nopLogger) Fatal(msg string, args ...interface{}) {}

// repoMock is an in-memory Repository with knobs for forcing failures and
// stalling writes.
type repoMock struct {
	mu           sync.Mutex
	subs         map[string]Submission
	pkCount      int
	saveErr      error         // forced on writes when set
	createGate   chan struct{} // blocks CreateApplication until closed when set
	createCalls  int
	promoteCalls int
}

var _ Repository = (*repoMock)(nil) // interface compliance check

func newRepoMock() *repoMock {
	return &repoMock{subs: make(map[string]Submission)}
}

func (repo *repoMock) CreateApplication(ctx context.Context, app Application, idn Identity, exec ...core.DBExecutor) (Submission, error) {
	if repo.createGate != nil {
		<-repo.createGate
	}
	repo.mu.Lock()
	defer repo.mu.Unlock()

	repo.createCalls++
	if repo.saveErr != nil {
		return Submission{}, repo.saveErr
	}
	for _, sub := range repo.subs {
		if sub.UserID == idn.ID && sub.Status == StatusPending {
			return Submission{}, ErrDuplicateSubmission
		}
	}
	now := time.Now().UTC()
	repo.pkCount++
	sub := Submission{
		ID:          fmt.Sprintf("sub%03d", repo.pkCount),
		UserID:      idn.ID,
		Status:      StatusPending,
		Application: app,
		SubmittedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	repo.subs[sub.ID] = sub
	return sub, nil
}

func (repo *repoMock) CreateDraft(ctx context.Context, app Application, idn Identity, exec ...core.DBExecutor) (Submission, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if repo.saveErr != nil {
		return Submission{}, repo.saveErr
	}
	now := time.Now().UTC()
	repo.pkCount++
	sub := Submission{
		ID:          fmt.Sprintf("sub%03d", repo.pkCount),
		UserID:      idn.ID,
		Status:      StatusDraft,
		Application: app,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	repo.subs[sub.ID] = sub
	return sub, nil
}

func (repo *repoMock) UpdateDraft(ctx context.Context, id string, app Application, idn Identity, exec ...core.DBExecutor) (Submission, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if repo.saveErr != nil {
		return Submission{}, repo.saveErr
	}
	sub, ok := repo.subs[id]
	if !ok || sub.UserID != idn.ID || sub.Status != StatusDraft {
		return Submission{}, ErrDraftNotFound
	}
	sub.Application = app
	sub.UpdatedAt = time.Now().UTC()
	repo.subs[id] = sub
	return sub, nil
}

func (repo *repoMock) PromoteDraft(ctx context.Context, id string, app Application, idn Identity, exec ...core.DBExecutor) (Submission, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	repo.promoteCalls++
	if repo.saveErr != nil {
		return Submission{}, repo.saveErr
	}
	sub, ok := repo.subs[id]
	if !ok || sub.UserID != idn.ID || sub.Status != StatusDraft {
		return Submission{}, ErrDraftNotFound
	}
	for _, other := range repo.subs {
		if other.UserID == idn.ID && other.Status == StatusPending {
			return Submission{}, ErrDuplicateSubmission
		}
	}
	now := time.Now().UTC()
	sub.Application = app
	sub.Status = StatusPending
	sub.SubmittedAt = now
	sub.UpdatedAt = now
	repo.subs[id] = sub
	return sub, nil
}

func (repo *repoMock) GetApplication(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Submission, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, sub := range repo.subs {
		if filter.ID != "" && sub.ID != filter.ID {
			continue
		}
		if filter.UserID != "" && sub.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && sub.Status != filter.Status {
			continue
		}
		return sub, nil
	}
	return Submission{}, ErrNotFound
}

func (repo *repoMock) QueryApplications(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Submission, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var subs []Submission
	for _, sub := range repo.subs {
		if filter != nil {
			if filter.UserID != "" && sub.UserID != filter.UserID {
				continue
			}
			if filter.Status != "" && sub.Status != filter.Status {
				continue
			}
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (repo *repoMock) DeleteDraft(ctx context.Context, id string, idn Identity, exec ...core.DBExecutor) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	sub, ok := repo.subs[id]
	if !ok || sub.UserID != idn.ID || sub.Status != StatusDraft {
		return ErrDraftNotFound
	}
	delete(repo.subs, id)
	return nil
}

func (repo *repoMock) UpdateStatus(ctx context.Context, id, status string, exec ...core.DBExecutor) (Submission, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	sub, ok := repo.subs[id]
	if !ok {
		return Submission{}, ErrNotFound
	}
	sub.Status = status
	sub.UpdatedAt = time.Now().UTC()
	repo.subs[id] = sub
	return sub, nil
}

func (repo *repoMock) counts() (creates, promotes int) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	return repo.createCalls, repo.promoteCalls
}

type catalogRepoMock struct {
	progs map[string]program.Program
}

var _ program.Repository = (*catalogRepoMock)(nil) // interface compliance check

func (repo *catalogRepoMock) CreateProgram(ctx context.Context, prog program.Program, exec ...core.DBExecutor) (program.Program, error) {
	repo.progs[prog.ID] = prog
	return prog, nil
}

func (repo *catalogRepoMock) QueryPrograms(ctx context.Context, filter *program.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]program.Program, error) {
	progs := make([]program.Program, 0, len(repo.progs))
	for _, prog := range repo.progs {
		progs = append(progs, prog)
	}
	return progs, nil
}

func (repo *catalogRepoMock) GetProgram(ctx context.Context, filter program.GetFilter, exec ...core.DBExecutor) (program.Program, error) {
	for _, prog := range repo.progs {
		if filter.ID != "" && prog.ID != filter.ID {
			continue
		}
		if filter.Code != "" && prog.Code != filter.Code {
			continue
		}
		return prog, nil
	}
	return program.Program{}, program.ErrNotFound
}

func (repo *catalogRepoMock) UpdateProgram(ctx context.Context, prog program.Program, exec ...core.DBExecutor) (program.Program, error) {
	repo.progs[prog.ID] = prog
	return prog, nil
}

type mailMock struct {
	mu   sync.Mutex
	sent []*core.EmailMessage
}

func (m *mailMock) SendMessages(messages ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, messages...)
}

func (m *mailMock) sentMessages() []*core.EmailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*core.EmailMessage(nil), m.sent...)
}

type metricsMock struct {
	mu       sync.Mutex
	attempts int
	outcomes []string
	drafts   int
}

func (m *metricsMock) SubmissionAttempted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
}

func (m *metricsMock) SubmissionFinished(outcome string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *metricsMock) DraftSaved() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts++
}

func (m *metricsMock) snapshot() (attempts int, outcomes []string, drafts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts, append([]string(nil), m.outcomes...), m.drafts
}

type testEnv struct {
	svc     Service
	repo    *repoMock
	mailer  *mailMock
	metrics *metricsMock
	tracker *Tracker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	active, closed := true, false
	catalog := &catalogRepoMock{progs: map[string]program.Program{
		"prog-1": {
			ID: "prog-1", Code: "cs", Name: "Computer Science", IsActive: &active,
			Courses: []program.Course{
				{ID: "course-1", ProgramID: "prog-1", Code: "se", Name: "Software Engineering", Duration: "4 years"},
				{ID: "course-2", ProgramID: "prog-1", Code: "ds", Name: "Data Science", Duration: "4 years"},
			},
		},
		"prog-closed": {
			ID: "prog-closed", Code: "law", Name: "Law", IsActive: &closed,
			Courses: []program.Course{
				{ID: "course-9", ProgramID: "prog-closed", Code: "llb", Name: "Civil Law", Duration: "5 years"},
			},
		},
	}}

	repo := newRepoMock()
	mailer := &mailMock{}
	metrics := &metricsMock{}
	tracker := NewTracker()
	svc := NewService(
		repo,
		program.NewService(catalog),
		mailer,
		&nopLogger{},
		metrics,
		tracker,
		newTestValidator(t),
		&core.Config{AppName: "Maombi"},
	)
	return &testEnv{svc: svc, repo: repo, mailer: mailer, metrics: metrics, tracker: tracker}
}

func (env *testEnv) waitForState(t *testing.T, idn *Identity, instanceKey string, want State) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if env.svc.InstanceState(idn, instanceKey) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %q", want)
}

var testIdentity = Identity{ID: "usr1", Email: "ngozi.obi@test.ng", Name: "Ngozi Obi"}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds", func(t *testing.T) {
		env := newTestEnv(t)
		idn := testIdentity

		res := env.svc.Submit(ctx, &idn, validApplication(), "form-1", "")
		if !res.Success {
			t.Fatalf("expected success, got %q (%v)", res.Message, res.Err)
		}
		if res.ID == "" {
			t.Error("expected an assigned id")
		}
		if !strings.Contains(res.Message, res.ID) {
			t.Errorf("expected the confirmation to carry the id, got %q", res.Message)
		}
		if state := env.svc.InstanceState(&idn, "form-1"); state != StateSucceeded {
			t.Errorf("expected succeeded, got %v", state)
		}

		sub, err := env.repo.GetApplication(ctx, GetFilter{ID: res.ID})
		if err != nil {
			t.Fatalf("submission not stored: %v", err)
		}
		if sub.Status != StatusPending {
			t.Errorf("expected pending, got %q", sub.Status)
		}
		if sub.UserID != idn.ID {
			t.Errorf("expected owner %q, got %q", idn.ID, sub.UserID)
		}
		if sub.SubmittedAt.IsZero() {
			t.Error("expected SubmittedAt to be set")
		}

		sent := env.mailer.sentMessages()
		if len(sent) != 1 {
			t.Fatalf("expected 1 confirmation email, got %d", len(sent))
		}
		if sent[0].TemplateName != "application-received" {
			t.Errorf("expected application-received template, got %q", sent[0].TemplateName)
		}
		if len(sent[0].To) != 1 || sent[0].To[0].Address != idn.Email {
			t.Errorf("expected email to %q, got %v", idn.Email, sent[0].To)
		}

		attempts, outcomes, _ := env.metrics.snapshot()
		if attempts != 1 {
			t.Errorf("expected 1 attempt, got %d", attempts)
		}
		if len(outcomes) != 1 || outcomes[0] != "succeeded" {
			t.Errorf("expected outcomes [succeeded], got %v", outcomes)
		}
	})

	t.Run("schema failure skips the machine and the store", func(t *testing.T) {
		env := newTestEnv(t)
		idn := testIdentity

		app := validApplication()
		app.PersonalInfo.Phone = "08031234567"

		res := env.svc.Submit(ctx, &idn, app, "form-1", "")
		if res.Success {
			t.Fatal("expected failure")
		}
		vErr, ok := errors.Cause(res.Err).(*core.ValidationError)
		if !ok {
			t.Fatalf("expected *core.ValidationError, got %T", res.Err)
		}
		if _, found := vErr.FieldErrorMap()["personalInfo.phone"]; !found {
			t.Errorf("expected a personalInfo.phone violation, got %v", vErr.FieldErrorMap())
		}
		if state := env.svc.InstanceState(&idn, "form-1"); state != StateIdle {
			t.Errorf("expected the machine untouched (idle), got %v", state)
		}
		if creates, promotes := env.repo.counts(); creates != 0 || promotes != 0 {
			t.Errorf("expected no store call, got creates=%d promotes=%d", creates, promotes)
		}
		if _, outcomes, _ := env.metrics.snapshot(); len(outcomes) != 1 || outcomes[0] != "invalid" {
			t.Errorf("expected outcomes [invalid], got %v", outcomes)
		}
	})

	t.Run("requires an identity", func(t *testing.T) {
		env := newTestEnv(t)

		res := env.svc.Submit(ctx, nil, validApplication(), "form-1", "")
		if res.Success {
			t.Fatal("expected failure")
		}
		if cause := errors.Cause(res.Err); cause != ErrNotAuthenticated {
			t.Errorf("expected ErrNotAuthenticated, got %v", cause)
		}
		if !strings.Contains(res.Message, "signed in") {
			t.Errorf("unexpected message %q", res.Message)
		}
		if creates, promotes := env.repo.counts(); creates != 0 || promotes != 0 {
			t.Errorf("expected no store call, got creates=%d promotes=%d", creates, promotes)
		}
		if state := env.svc.InstanceState(nil, "form-1"); state != StateFailed {
			t.Errorf("expected failed, got %v", state)
		}
		if _, outcomes, _ := env.metrics.snapshot(); len(outcomes) != 1 || outcomes[0] != "unauthenticated" {
			t.Errorf("expected outcomes [unauthenticated], got %v", outcomes)
		}
	})

	t.Run("rejects a closed program", func(t *testing.T) {
		env := newTestEnv(t)
		idn := testIdentity

		app := validApplication()
		app.ProgramSelection.ProgramID = "prog-closed"
		app.ProgramSelection.CourseID = "course-9"

		res := env.svc.Submit(ctx, &idn, app, "form-1", "")
		vErr, ok := errors.Cause(res.Err).(*core.ValidationError)
		if !ok {
			t.Fatalf("expected *core.ValidationError, got %T", res.Err)
		}
		if _, found := vErr.FieldErrorMap()["programSelection.programId"]; !found {
			t.Errorf("expected a programSelection.programId violation, got %v", vErr.FieldErrorMap())
		}
		if state := env.svc.InstanceState(&idn, "form-1"); state != StateFailed {
			t.Errorf("expected failed, got %v", state)
		}
		if creates, promotes := env.repo.counts(); creates != 0 || promotes != 0 {
			t.Errorf("expected no store call, got creates=%d promotes=%d", creates, promotes)
		}
	})

	t.Run("rejects a course outside the program", func(t *testing.T) {
		env := newTestEnv(t)
		idn := testIdentity

		app := validApplication()
		app.ProgramSelection.CourseID = "course-9" // belongs to prog-closed

		res := env.svc.Submit(ctx, &idn, app, "form-1", "")
		vErr, ok := errors.Cause(res.Err).(*core.ValidationError)
		if !ok {
			t.Fatalf("expected *core.ValidationError, got %T", res.Err)
		}
		if _, found := vErr.FieldErrorMap()["programSelection.courseId"]; !found {
			t.Errorf("expected a programSelection.courseId violation, got %v", vErr.FieldErrorMap())
		}
	})

	t.Run("passes through a duplicate pending submission", func(t *testing.T) {
		env := newTestEnv(t)
		idn := testIdentity

		if res := env.svc.Submit(ctx, &idn, validApplication(), "form-1", ""); !res.Success {
			t.Fatalf("seed submission failed: %v", res.Err)
		}
		res := env.svc.Submit(ctx, &idn, validApplication(), "form-1", "")
		if res.Success {
			t.Fatal("expected failure")
		}
		if cause := errors.Cause(res.Err); cause != ErrDuplicateSubmission {
			t.Errorf("expected ErrDuplicateSubmission, got %v", cause)
		}
		if !strings.Contains(res.Message, "already pending review") {
			t.Errorf("unexpected message %q", res.Message)
		}
		if state := env.svc.InstanceState(&idn, "form-1"); state != StateFailed {
			t.Errorf("expected failed, got %v", state)
		}
		if _, outcomes, _ := env.metrics.snapshot(); len(outcomes) != 2 || outcomes[1] != "duplicate" {
			t.Errorf("expected outcomes [succeeded duplicate], got %v", outcomes)
		}
	})

	t.Run("masks store outages", func(t *testing.T) {
		env := newTestEnv(t)
		idn := testIdentity
		env.repo.saveErr = errors.New("connection refused")

		res := env.svc.Submit(ctx, &idn, validApplication(), "form-1", "")
		if res.Success {
			t.Fatal("expected failure")
		}
		if cause := errors.Cause(res.Err); cause != ErrRemoteUnavailable {
			t.Errorf("expected ErrRemoteUnavailable, got %v", cause)
		}
		if !strings.Contains(res.Message, "try again later") {
			t.Errorf("unexpected message %q", res.Message)
		}
		if err := env.tracker.LastError("usr1/form-1"); errors.Cause(err) != ErrRemoteUnavailable {
			t.Errorf("expected the failure recorded on the machine, got %v", err)
		}
		if _, outcomes, _ := env.metrics.snapshot(); len(outcomes) != 1 || outcomes[0] != "unavailable" {
			t.Errorf("expected outcomes [unavailable], got %v", outcomes)
		}
	})

	t.Run("refuses concurrent attempts for the same instance", func(t *testing.T) {
		env := newTestEnv(t)
		idn := testIdentity
		env.repo.createGate = make(chan struct{})

		done := make(chan SubmitResult, 1)
		go func() {
			done <- env.svc.Submit(ctx, &idn, validApplication(), "form-1", "")
		}()
		env.waitForState(t, &idn, "form-1", StateSubmitting)

		res := env.svc.Submit(ctx, &idn, validApplication(), "form-1", "")
		if res.Success {
			t.Fatal("expected the second attempt to be refused")
		}
		if cause := errors.Cause(res.Err); cause != ErrSubmissionInFlight {
			t.Errorf("expected ErrSubmissionInFlight, got %v", cause)
		}
		// the refusal must not disturb the live attempt
		if state := env.svc.InstanceState(&idn, "form-1"); state != StateSubmitting {
			t.Errorf("expected the first attempt still submitting, got %v", state)
		}

		close(env.repo.createGate)
		if first := <-done; !first.Success {
			t.Fatalf("expected the first attempt to succeed, got %v", first.Err)
		}
		if state := env.svc.InstanceState(&idn, "form-1"); state != StateSucceeded {
			t.Errorf("expected succeeded, got %v", state)
		}
		if creates, promotes := env.repo.counts(); creates != 1 || promotes != 0 {
			t.Errorf("expected exactly one store call, got creates=%d promotes=%d", creates, promotes)
		}

		_, outcomes, _ := env.metrics.snapshot()
		sort.Strings(outcomes)
		if len(outcomes) != 2 || outcomes[0] != "in_flight" || outcomes[1] != "succeeded" {
			t.Errorf("expected outcomes [in_flight succeeded], got %v", outcomes)
		}
	})

	t.Run("distinct form instances do not contend", func(t *testing.T) {
		env := newTestEnv(t)
		idn := testIdentity

		held := env.tracker.acquire(instanceKeyFor(&idn, "form-2"))
		if err := held.begin(); err != nil {
			t.Fatalf("begin() failed: %v", err)
		}

		if res := env.svc.Submit(ctx, &idn, validApplication(), "form-3", ""); !res.Success {
			t.Fatalf("expected an unrelated instance to submit, got %v", res.Err)
		}
		res := env.svc.Submit(ctx, &idn, validApplication(), "form-2", "")
		if cause := errors.Cause(res.Err); cause != ErrSubmissionInFlight {
			t.Errorf("expected ErrSubmissionInFlight on the held instance, got %v", cause)
		}
	})

	t.Run("finalizes a draft in place", func(t *testing.T) {
		env := newTestEnv(t)
		idn := testIdentity

		partial := Application{}
		partial.ProgramSelection.ProgramID = "prog-1"
		draft, err := env.svc.SaveDraft(ctx, &idn, partial, "")
		if err != nil {
			t.Fatalf("SaveDraft() failed: %v", err)
		}

		res := env.svc.Submit(ctx, &idn, validApplication(), "form-1", draft.ID)
		if !res.Success {
			t.Fatalf("expected success, got %v", res.Err)
		}
		if res.ID != draft.ID {
			t.Errorf("expected the draft id %q to be kept, got %q", draft.ID, res.ID)
		}
		sub, err := env.repo.GetApplication(ctx, GetFilter{ID: draft.ID})
		if err != nil {
			t.Fatalf("submission not stored: %v", err)
		}
		if sub.Status != StatusPending {
			t.Errorf("expected pending, got %q", sub.Status)
		}
		if creates, promotes := env.repo.counts(); creates != 0 || promotes != 1 {
			t.Errorf("expected a single promote call, got creates=%d promotes=%d", creates, promotes)
		}
	})

	t.Run("reports a missing draft", func(t *testing.T) {
		env := newTestEnv(t)
		idn := testIdentity

		res := env.svc.Submit(ctx, &idn, validApplication(), "form-1", "ghost")
		if cause := errors.Cause(res.Err); cause != ErrDraftNotFound {
			t.Errorf("expected ErrDraftNotFound, got %v", cause)
		}
		if !strings.Contains(res.Message, "no longer exists") {
			t.Errorf("unexpected message %q", res.Message)
		}
	})
}

func TestSaveDraft(t *testing.T) {
	ctx := context.Background()

	t.Run("creates then updates in place", func(t *testing.T) {
		env := newTestEnv(t)
		idn := testIdentity

		partial := Application{}
		partial.PersonalInfo.FirstName = "Ngozi"
		partial.PersonalInfo.Email = " NGOZI.OBI@TEST.NG "

		draft, err := env.svc.SaveDraft(ctx, &idn, partial, "")
		if err != nil {
			t.Fatalf("SaveDraft() failed: %v", err)
		}
		if draft.Status != StatusDraft {
			t.Errorf("expected draft, got %q", draft.Status)
		}
		if draft.PersonalInfo.Email != "ngozi.obi@test.ng" {
			t.Errorf("expected a normalized email, got %q", draft.PersonalInfo.Email)
		}

		partial.ProgramSelection.ProgramID = "prog-1"
		updated, err := env.svc.SaveDraft(ctx, &idn, partial, draft.ID)
		if err != nil {
			t.Fatalf("SaveDraft() update failed: %v", err)
		}
		if updated.ID != draft.ID {
			t.Errorf("expected id %q to be kept, got %q", draft.ID, updated.ID)
		}
		if updated.ProgramSelection.ProgramID != "prog-1" {
			t.Error("expected the draft content to be replaced")
		}

		if _, _, drafts := env.metrics.snapshot(); drafts != 2 {
			t.Errorf("expected 2 draft saves recorded, got %d", drafts)
		}
	})

	t.Run("scopes updates to the owner", func(t *testing.T) {
		env := newTestEnv(t)
		idn := testIdentity

		draft, err := env.svc.SaveDraft(ctx, &idn, Application{}, "")
		if err != nil {
			t.Fatalf("SaveDraft() failed: %v", err)
		}

		other := Identity{ID: "usr2", Email: "eze@test.ng", Name: "Eze Madu"}
		if _, err = env.svc.SaveDraft(ctx, &other, Application{}, draft.ID); errors.Cause(err) != ErrDraftNotFound {
			t.Errorf("expected ErrDraftNotFound, got %v", err)
		}
	})

	t.Run("requires an identity", func(t *testing.T) {
		env := newTestEnv(t)

		if _, err := env.svc.SaveDraft(ctx, nil, Application{}, ""); errors.Cause(err) != ErrNotAuthenticated {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
		if _, _, drafts := env.metrics.snapshot(); drafts != 0 {
			t.Errorf("expected no draft saves recorded, got %d", drafts)
		}
	})
}

func TestDeleteDraft(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	idn := testIdentity

	draft, err := env.svc.SaveDraft(ctx, &idn, Application{}, "")
	if err != nil {
		t.Fatalf("SaveDraft() failed: %v", err)
	}

	other := Identity{ID: "usr2", Email: "eze@test.ng", Name: "Eze Madu"}
	if err = env.svc.DeleteDraft(ctx, &other, draft.ID); errors.Cause(err) != ErrDraftNotFound {
		t.Errorf("expected ErrDraftNotFound for a foreign owner, got %v", err)
	}

	if err = env.svc.DeleteDraft(ctx, &idn, draft.ID); err != nil {
		t.Fatalf("DeleteDraft() failed: %v", err)
	}
	if err = env.svc.DeleteDraft(ctx, &idn, draft.ID); errors.Cause(err) != ErrDraftNotFound {
		t.Errorf("expected ErrDraftNotFound on a second delete, got %v", err)
	}

	// a finalized submission is out of reach
	res := env.svc.Submit(ctx, &idn, validApplication(), "form-1", "")
	if !res.Success {
		t.Fatalf("submission failed: %v", res.Err)
	}
	if err = env.svc.DeleteDraft(ctx, &idn, res.ID); errors.Cause(err) != ErrDraftNotFound {
		t.Errorf("expected ErrDraftNotFound for a pending submission, got %v", err)
	}
}

func TestOwnerQueries(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	idn := testIdentity
	other := Identity{ID: "usr2", Email: "eze@test.ng", Name: "Eze Madu"}

	draft, err := env.svc.SaveDraft(ctx, &idn, Application{}, "")
	if err != nil {
		t.Fatalf("SaveDraft() failed: %v", err)
	}
	res := env.svc.Submit(ctx, &idn, validApplication(), "form-1", "")
	if !res.Success {
		t.Fatalf("submission failed: %v", res.Err)
	}
	if _, err = env.svc.SaveDraft(ctx, &other, Application{}, ""); err != nil {
		t.Fatalf("SaveDraft() failed: %v", err)
	}

	subs, err := env.svc.QueryOwn(ctx, &idn, "")
	if err != nil {
		t.Fatalf("QueryOwn() failed: %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("expected 2 own submissions, got %d", len(subs))
	}
	for _, sub := range subs {
		if sub.UserID != idn.ID {
			t.Errorf("expected only own submissions, got one owned by %q", sub.UserID)
		}
	}

	drafts, err := env.svc.QueryOwn(ctx, &idn, StatusDraft)
	if err != nil {
		t.Fatalf("QueryOwn() failed: %v", err)
	}
	if len(drafts) != 1 || drafts[0].ID != draft.ID {
		t.Errorf("expected only the draft, got %v", drafts)
	}

	if _, err = env.svc.GetOwn(ctx, &idn, draft.ID); err != nil {
		t.Errorf("GetOwn() failed: %v", err)
	}
	if _, err = env.svc.GetOwn(ctx, &other, draft.ID); errors.Cause(err) != ErrNotFound {
		t.Errorf("expected ErrNotFound for a foreign owner, got %v", err)
	}
	if _, err = env.svc.QueryOwn(ctx, nil, ""); errors.Cause(err) != ErrNotAuthenticated {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	idn := testIdentity

	res := env.svc.Submit(ctx, &idn, validApplication(), "form-1", "")
	if !res.Success {
		t.Fatalf("submission failed: %v", res.Err)
	}

	if _, err := env.svc.UpdateStatus(ctx, res.ID, "shredded"); err == nil {
		t.Error("expected an unknown status to be refused")
	} else if vErr, ok := errors.Cause(err).(*core.ValidationError); !ok {
		t.Errorf("expected *core.ValidationError, got %T", err)
	} else if _, found := vErr.FieldErrorMap()["status"]; !found {
		t.Errorf("expected a status violation, got %v", vErr.FieldErrorMap())
	}

	sub, err := env.svc.UpdateStatus(ctx, res.ID, StatusApproved)
	if err != nil {
		t.Fatalf("UpdateStatus() failed: %v", err)
	}
	if sub.Status != StatusApproved {
		t.Errorf("expected approved, got %q", sub.Status)
	}

	if _, err = env.svc.UpdateStatus(ctx, "ghost", StatusRejected); errors.Cause(err) != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStaffQuery(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	idn := testIdentity
	other := Identity{ID: "usr2", Email: "eze@test.ng", Name: "Eze Madu"}

	if res := env.svc.Submit(ctx, &idn, validApplication(), "form-1", ""); !res.Success {
		t.Fatalf("submission failed: %v", res.Err)
	}
	if _, err := env.svc.SaveDraft(ctx, &other, Application{}, ""); err != nil {
		t.Fatalf("SaveDraft() failed: %v", err)
	}

	subs, err := env.svc.Query(ctx, &QueryFilter{Status: StatusPending})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(subs) != 1 || subs[0].Status != StatusPending {
		t.Errorf("expected only the pending submission, got %v", subs)
	}

	all, err := env.svc.Query(ctx, &QueryFilter{})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 submissions, got %d", len(all))
	}
}
