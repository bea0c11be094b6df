package application

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/maombi/core"
	"github.com/trezcool/maombi/core/program"
)

var (
	// errors
	ErrNotFound            = errors.New("application not found")
	ErrNotAuthenticated    = errors.New("you must be signed in to apply")
	ErrDuplicateSubmission = errors.New("an application is already pending review for this account")
	ErrRemoteUnavailable   = errors.New("the application could not be saved, please try again later")
	ErrDraftNotFound       = errors.New("draft not found")
)

// Metric outcome labels.
const (
	outcomeSucceeded       = "succeeded"
	outcomeInvalid         = "invalid"
	outcomeUnauthenticated = "unauthenticated"
	outcomeInFlight        = "in_flight"
	outcomeDuplicate       = "duplicate"
	outcomeDraftNotFound   = "draft_not_found"
	outcomeUnavailable     = "unavailable"
)

type (
	// Repository persists and fetches Submissions. An optional exec overrides
	// the default DB handle, typically with an open transaction.
	//
	// Preconditions: the caller has resolved the owner Identity and, for
	// CreateApplication/PromoteDraft, the Application has already passed
	// schema validation. Implementations construct the storage-shaped record
	// (owner id, status, timestamps) themselves and map a pending-uniqueness
	// violation to ErrDuplicateSubmission.
	Repository interface {
		CreateApplication(ctx context.Context, app Application, idn Identity, exec ...core.DBExecutor) (Submission, error)
		CreateDraft(ctx context.Context, app Application, idn Identity, exec ...core.DBExecutor) (Submission, error)
		// UpdateDraft updates a draft in place, scoped by both draft id and
		// owner; zero rows affected reports ErrDraftNotFound, never silence.
		UpdateDraft(ctx context.Context, id string, app Application, idn Identity, exec ...core.DBExecutor) (Submission, error)
		// PromoteDraft finalizes a draft into a pending submission in place,
		// same owner scoping and duplicate rule as CreateApplication.
		PromoteDraft(ctx context.Context, id string, app Application, idn Identity, exec ...core.DBExecutor) (Submission, error)
		GetApplication(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Submission, error)
		// QueryApplications applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on the applicant's
		// first name, last name or email.
		QueryApplications(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Submission, error)
		// DeleteDraft removes a draft, scoped by both draft id and owner;
		// zero rows affected reports ErrDraftNotFound.
		DeleteDraft(ctx context.Context, id string, idn Identity, exec ...core.DBExecutor) error
		UpdateStatus(ctx context.Context, id, status string, exec ...core.DBExecutor) (Submission, error)
	}

	// Metrics observes the submission pipeline.
	Metrics interface {
		SubmissionAttempted()
		SubmissionFinished(outcome string, elapsed time.Duration)
		DraftSaved()
	}

	Service interface {
		// Submit runs the full submission pipeline and always returns a
		// terminal SubmitResult; failures never escape as errors or panics.
		// A non-empty draftID finalizes that draft in place.
		Submit(ctx context.Context, idn *Identity, app Application, instanceKey, draftID string) SubmitResult
		// SaveDraft upserts an intentionally incomplete application. Missing
		// sections stay as empty section values; no schema validation runs.
		SaveDraft(ctx context.Context, idn *Identity, app Application, draftID string) (Submission, error)
		GetOwn(ctx context.Context, idn *Identity, id string) (Submission, error)
		QueryOwn(ctx context.Context, idn *Identity, status string) ([]Submission, error)
		DeleteDraft(ctx context.Context, idn *Identity, id string) error
		Get(ctx context.Context, id string) (Submission, error)
		Query(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]Submission, error)
		UpdateStatus(ctx context.Context, id, status string) (Submission, error)
		// InstanceState reports the submission state of a form instance.
		InstanceState(idn *Identity, instanceKey string) State
	}

	service struct {
		repo     Repository
		catalog  program.Service
		mailSvc  core.EmailService
		logger   core.Logger
		metrics  Metrics
		tracker  *Tracker
		validate *validator.Validate
		conf     *core.Config
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(
	repo Repository,
	catalog program.Service,
	mailSvc core.EmailService,
	logger core.Logger,
	metrics Metrics,
	tracker *Tracker,
	validate *validator.Validate,
	conf *core.Config,
) Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(catalog, "catalog"),
		vala.IsNotNil(mailSvc, "mailSvc"),
		vala.IsNotNil(logger, "logger"),
		vala.IsNotNil(metrics, "metrics"),
		vala.IsNotNil(tracker, "tracker"),
		vala.IsNotNil(validate, "validate"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	return &service{
		repo:     repo,
		catalog:  catalog,
		mailSvc:  mailSvc,
		logger:   logger,
		metrics:  metrics,
		tracker:  tracker,
		validate: validate,
		conf:     conf,
	}
}

func (svc *service) Submit(ctx context.Context, idn *Identity, app Application, instanceKey, draftID string) SubmitResult {
	start := time.Now()
	svc.metrics.SubmissionAttempted()

	// schema validation blocks the attempt before any remote work; locally
	// invalid input never engages the machine.
	if err := app.Validate(svc.validate); err != nil {
		return svc.failedResult(start, err)
	}

	m := svc.tracker.acquire(instanceKeyFor(idn, instanceKey))
	if err := m.begin(); err != nil {
		// another attempt owns the machine; no remote call
		return svc.failedResult(start, err)
	}

	sub, err := svc.submit(ctx, idn, app, draftID)
	if err != nil {
		m.fail(err)
		return svc.failedResult(start, err)
	}
	m.succeed()

	svc.metrics.SubmissionFinished(outcomeSucceeded, time.Since(start))
	svc.sendApplicationReceivedMail(*idn, sub)
	return SubmitResult{
		Success: true,
		Message: fmt.Sprintf("Application %s submitted successfully.", sub.ID),
		ID:      sub.ID,
	}
}

// submit is the remote phase of the pipeline, entered only from submitting.
func (svc *service) submit(ctx context.Context, idn *Identity, app Application, draftID string) (Submission, error) {
	if idn == nil || idn.ID == "" {
		return Submission{}, ErrNotAuthenticated
	}
	if err := svc.checkSelection(ctx, app.ProgramSelection); err != nil {
		return Submission{}, err
	}

	var sub Submission
	var err error
	if draftID != "" {
		sub, err = svc.repo.PromoteDraft(ctx, draftID, app, *idn)
	} else {
		sub, err = svc.repo.CreateApplication(ctx, app, *idn)
	}
	if err != nil {
		switch errors.Cause(err) {
		case ErrDuplicateSubmission, ErrDraftNotFound:
			return Submission{}, err
		}
		svc.logger.Error(fmt.Sprintf("application store write failed: %v", err), err)
		return Submission{}, ErrRemoteUnavailable
	}
	return sub, nil
}

// checkSelection verifies the program selection against the catalog and
// reports violations on the selection's field paths.
func (svc *service) checkSelection(ctx context.Context, ps ProgramSelection) error {
	err := svc.catalog.CheckSelection(ctx, ps.ProgramID, ps.CourseID)
	if err == nil {
		return nil
	}
	switch cause := errors.Cause(err); cause {
	case program.ErrNotFound, program.ErrProgramClosed:
		return core.NewValidationError(cause, core.FieldError{Field: "programSelection.programId", Error: cause.Error()})
	case program.ErrCourseNotFound:
		return core.NewValidationError(cause, core.FieldError{Field: "programSelection.courseId", Error: cause.Error()})
	}
	svc.logger.Error(fmt.Sprintf("program catalog lookup failed: %v", err), err)
	return ErrRemoteUnavailable
}

func (svc *service) failedResult(start time.Time, err error) SubmitResult {
	svc.metrics.SubmissionFinished(outcomeForErr(err), time.Since(start))
	return SubmitResult{Success: false, Message: resultMessage(err), Err: err}
}

func (svc *service) SaveDraft(ctx context.Context, idn *Identity, app Application, draftID string) (Submission, error) {
	if idn == nil || idn.ID == "" {
		return Submission{}, ErrNotAuthenticated
	}
	app.Clean()

	var sub Submission
	var err error
	if draftID != "" {
		sub, err = svc.repo.UpdateDraft(ctx, draftID, app, *idn)
	} else {
		sub, err = svc.repo.CreateDraft(ctx, app, *idn)
	}
	if err != nil {
		return Submission{}, err
	}
	svc.metrics.DraftSaved()
	return sub, nil
}

func (svc *service) GetOwn(ctx context.Context, idn *Identity, id string) (Submission, error) {
	if idn == nil || idn.ID == "" {
		return Submission{}, ErrNotAuthenticated
	}
	return svc.repo.GetApplication(ctx, GetFilter{ID: id, UserID: idn.ID})
}

func (svc *service) QueryOwn(ctx context.Context, idn *Identity, status string) ([]Submission, error) {
	if idn == nil || idn.ID == "" {
		return nil, ErrNotAuthenticated
	}
	filter := &QueryFilter{UserID: idn.ID, Status: status}
	return svc.repo.QueryApplications(ctx, filter, defaultOrdering())
}

func (svc *service) DeleteDraft(ctx context.Context, idn *Identity, id string) error {
	if idn == nil || idn.ID == "" {
		return ErrNotAuthenticated
	}
	return svc.repo.DeleteDraft(ctx, id, *idn)
}

func (svc *service) Get(ctx context.Context, id string) (Submission, error) {
	return svc.repo.GetApplication(ctx, GetFilter{ID: id})
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]Submission, error) {
	if len(ordering) == 0 {
		ordering = defaultOrdering()
	}
	return svc.repo.QueryApplications(ctx, filter, ordering)
}

func (svc *service) UpdateStatus(ctx context.Context, id, status string) (Submission, error) {
	switch status {
	case StatusPending, StatusApproved, StatusRejected:
	default:
		return Submission{}, core.NewValidationError(
			nil, core.FieldError{Field: "status", Error: "must be one of: pending, approved, rejected"})
	}
	return svc.repo.UpdateStatus(ctx, id, status)
}

func (svc *service) InstanceState(idn *Identity, instanceKey string) State {
	return svc.tracker.State(instanceKeyFor(idn, instanceKey))
}

// instanceKeyFor scopes a client form instance key by its owner. Anonymous
// attempts share a key so their machines never shadow an owner's.
func instanceKeyFor(idn *Identity, instanceKey string) string {
	owner := "anonymous"
	if idn != nil && idn.ID != "" {
		owner = idn.ID
	}
	if instanceKey == "" {
		return owner
	}
	return owner + "/" + instanceKey
}

func defaultOrdering() []core.DBOrdering {
	return []core.DBOrdering{{Field: "created_at", Ascending: false}}
}

func outcomeForErr(err error) string {
	switch errors.Cause(err) {
	case ErrNotAuthenticated:
		return outcomeUnauthenticated
	case ErrSubmissionInFlight:
		return outcomeInFlight
	case ErrDuplicateSubmission:
		return outcomeDuplicate
	case ErrDraftNotFound:
		return outcomeDraftNotFound
	case ErrRemoteUnavailable:
		return outcomeUnavailable
	}
	if _, ok := errors.Cause(err).(*core.ValidationError); ok {
		return outcomeInvalid
	}
	return outcomeUnavailable
}

func resultMessage(err error) string {
	switch cause := errors.Cause(err).(type) {
	case *core.ValidationError:
		if msg := cause.Error(); msg != "" {
			return "The application is not valid: " + msg + "."
		}
		return "The application is not valid, please review the highlighted fields."
	}

	switch errors.Cause(err) {
	case ErrNotAuthenticated:
		return "You must be signed in to submit an application."
	case ErrSubmissionInFlight:
		return "A submission is already in progress for this application."
	case ErrDuplicateSubmission:
		return "An application is already pending review for this account."
	case ErrDraftNotFound:
		return "The draft being finalized no longer exists."
	}
	return "The application could not be saved, please try again later."
}

// Emails

func (svc *service) sendApplicationReceivedMail(idn Identity, sub Submission) {
	name := idn.Name
	if name == "" {
		name = sub.PersonalInfo.FirstName
	}
	svc.mailSvc.SendMessages(
		&core.EmailMessage{
			To:           []mail.Address{{Name: name, Address: idn.Email}},
			Subject:      fmt.Sprintf("%s: Application Received", svc.conf.AppName),
			TemplateName: "application-received",
			TemplateData: struct {
				Name string
				ID   string
			}{
				Name: name,
				ID:   sub.ID,
			},
		},
	)
}
