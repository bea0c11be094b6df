package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/maombi/core"
	"github.com/trezcool/maombi/core/application"
)

const applicationTable = "application"

var applicationColumns = []string{
	"id", "user_id", "status",
	"personal_info", "academic_background", "program_selection", "accommodation", "referee",
	"submitted_at", "created_at", "updated_at",
}

type (
	// dbSections holds the five form sections as JSONB columns.
	dbSections struct {
		PersonalInfo       types.JSONText `db:"personal_info"`
		AcademicBackground types.JSONText `db:"academic_background"`
		ProgramSelection   types.JSONText `db:"program_selection"`
		Accommodation      types.JSONText `db:"accommodation"`
		Referee            types.JSONText `db:"referee"`
	}

	dbApplication struct {
		ID     string `db:"id"`
		UserID string `db:"user_id"`
		Status string `db:"status"`
		dbSections
		SubmittedAt null.Time `db:"submitted_at"`
		CreatedAt   null.Time `db:"created_at"`
		UpdatedAt   null.Time `db:"updated_at"`
	}
)

func marshalSection(v interface{}) (types.JSONText, error) {
	b, err := json.Marshal(v)
	return types.JSONText(b), errors.Wrap(err, "encoding section")
}

func packSections(app application.Application) (dbSections, error) {
	var (
		ds  dbSections
		err error
	)
	if ds.PersonalInfo, err = marshalSection(app.PersonalInfo); err != nil {
		return ds, err
	}
	if ds.AcademicBackground, err = marshalSection(app.AcademicBackground); err != nil {
		return ds, err
	}
	if ds.ProgramSelection, err = marshalSection(app.ProgramSelection); err != nil {
		return ds, err
	}
	if ds.Accommodation, err = marshalSection(app.Accommodation); err != nil {
		return ds, err
	}
	if ds.Referee, err = marshalSection(app.Referee); err != nil {
		return ds, err
	}
	return ds, nil
}

func unpackSections(ds dbSections) (application.Application, error) {
	var app application.Application
	if err := ds.PersonalInfo.Unmarshal(&app.PersonalInfo); err != nil {
		return app, errors.Wrap(err, "decoding section")
	}
	if err := ds.AcademicBackground.Unmarshal(&app.AcademicBackground); err != nil {
		return app, errors.Wrap(err, "decoding section")
	}
	if err := ds.ProgramSelection.Unmarshal(&app.ProgramSelection); err != nil {
		return app, errors.Wrap(err, "decoding section")
	}
	if err := ds.Accommodation.Unmarshal(&app.Accommodation); err != nil {
		return app, errors.Wrap(err, "decoding section")
	}
	if err := ds.Referee.Unmarshal(&app.Referee); err != nil {
		return app, errors.Wrap(err, "decoding section")
	}
	return app, nil
}

type applicationRepository struct {
	db core.DB
}

var _ application.Repository = (*applicationRepository)(nil) // interface compliance check

func NewApplicationRepository(db core.DB) *applicationRepository {
	return &applicationRepository{db: db}
}

func (repo applicationRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 {
		return svcExec[0]
	}
	return repo.db
}

func (repo applicationRepository) unpack(da dbApplication) (application.Submission, error) {
	app, err := unpackSections(da.dbSections)
	if err != nil {
		return application.Submission{}, err
	}
	return application.Submission{
		ID:          da.ID,
		UserID:      da.UserID,
		Status:      da.Status,
		Application: app,
		SubmittedAt: da.SubmittedAt.Time,
		CreatedAt:   da.CreatedAt.Time,
		UpdatedAt:   da.UpdatedAt.Time,
	}, nil
}

func (repo applicationRepository) unpackSlice(das []dbApplication) ([]application.Submission, error) {
	subs := make([]application.Submission, 0, len(das))
	for _, da := range das {
		sub, err := repo.unpack(da)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (repo applicationRepository) insert(ctx context.Context, app application.Application, idn application.Identity, status string, submitted null.Time, exec ...core.DBExecutor) (application.Submission, error) {
	ds, err := packSections(app)
	if err != nil {
		return application.Submission{}, err
	}
	now := time.Now().UTC()
	id := uuid.New().String()

	query, args, err := psql.Insert(applicationTable).
		Columns(applicationColumns...).
		Values(
			id, idn.ID, status,
			ds.PersonalInfo, ds.AcademicBackground, ds.ProgramSelection, ds.Accommodation, ds.Referee,
			submitted, now, now,
		).
		ToSql()
	if err != nil {
		return application.Submission{}, errors.Wrap(err, "inserting application")
	}
	if _, err = repo.getExec(exec).ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return application.Submission{}, application.ErrDuplicateSubmission
		}
		return application.Submission{}, errors.Wrap(err, "inserting application")
	}

	return application.Submission{
		ID:          id,
		UserID:      idn.ID,
		Status:      status,
		Application: app,
		SubmittedAt: submitted.Time,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (repo applicationRepository) CreateApplication(ctx context.Context, app application.Application, idn application.Identity, exec ...core.DBExecutor) (application.Submission, error) {
	now := time.Now().UTC()
	return repo.insert(ctx, app, idn, application.StatusPending, null.TimeFrom(now), exec...)
}

func (repo applicationRepository) CreateDraft(ctx context.Context, app application.Application, idn application.Identity, exec ...core.DBExecutor) (application.Submission, error) {
	return repo.insert(ctx, app, idn, application.StatusDraft, null.Time{}, exec...)
}

func (repo applicationRepository) UpdateDraft(ctx context.Context, id string, app application.Application, idn application.Identity, exec ...core.DBExecutor) (application.Submission, error) {
	if _, err := uuid.Parse(id); err != nil {
		return application.Submission{}, application.ErrDraftNotFound
	}
	ds, err := packSections(app)
	if err != nil {
		return application.Submission{}, err
	}

	query, args, err := psql.Update(applicationTable).
		Set("personal_info", ds.PersonalInfo).
		Set("academic_background", ds.AcademicBackground).
		Set("program_selection", ds.ProgramSelection).
		Set("accommodation", ds.Accommodation).
		Set("referee", ds.Referee).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id, "user_id": idn.ID, "status": application.StatusDraft}).
		ToSql()
	if err != nil {
		return application.Submission{}, errors.Wrap(err, "updating draft")
	}
	res, err := repo.getExec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		return application.Submission{}, errors.Wrap(err, "updating draft")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return application.Submission{}, application.ErrDraftNotFound
	}
	return repo.GetApplication(ctx, application.GetFilter{ID: id}, exec...)
}

// PromoteDraft flips a draft to pending in a single statement; the partial
// unique index on (user_id) WHERE status = 'pending' enforces the
// one-pending-application rule atomically.
func (repo applicationRepository) PromoteDraft(ctx context.Context, id string, app application.Application, idn application.Identity, exec ...core.DBExecutor) (application.Submission, error) {
	if _, err := uuid.Parse(id); err != nil {
		return application.Submission{}, application.ErrDraftNotFound
	}
	ds, err := packSections(app)
	if err != nil {
		return application.Submission{}, err
	}
	now := time.Now().UTC()

	query, args, err := psql.Update(applicationTable).
		Set("status", application.StatusPending).
		Set("personal_info", ds.PersonalInfo).
		Set("academic_background", ds.AcademicBackground).
		Set("program_selection", ds.ProgramSelection).
		Set("accommodation", ds.Accommodation).
		Set("referee", ds.Referee).
		Set("submitted_at", now).
		Set("updated_at", now).
		Where(sq.Eq{"id": id, "user_id": idn.ID, "status": application.StatusDraft}).
		ToSql()
	if err != nil {
		return application.Submission{}, errors.Wrap(err, "promoting draft")
	}
	res, err := repo.getExec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return application.Submission{}, application.ErrDuplicateSubmission
		}
		return application.Submission{}, errors.Wrap(err, "promoting draft")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return application.Submission{}, application.ErrDraftNotFound
	}
	return repo.GetApplication(ctx, application.GetFilter{ID: id}, exec...)
}

func (repo applicationRepository) GetApplication(ctx context.Context, filter application.GetFilter, exec ...core.DBExecutor) (application.Submission, error) {
	qb := psql.Select(applicationColumns...).From(applicationTable)

	if filter.ID != "" {
		if _, err := uuid.Parse(filter.ID); err != nil {
			return application.Submission{}, application.ErrNotFound
		}
		qb = qb.Where(sq.Eq{"id": filter.ID})
	}
	if filter.UserID != "" {
		qb = qb.Where(sq.Eq{"user_id": filter.UserID})
	}
	if filter.Status != "" {
		qb = qb.Where(sq.Eq{"status": filter.Status})
	}
	if filter.ID == "" && filter.UserID == "" {
		return application.Submission{}, application.ErrNotFound
	}

	query, args, err := qb.Limit(1).ToSql()
	if err != nil {
		return application.Submission{}, errors.Wrap(err, "finding application")
	}
	rows, err := repo.getExec(exec).QueryContext(ctx, query, args...)
	if err != nil {
		return application.Submission{}, errors.Wrap(err, "finding application")
	}
	defer func() { _ = rows.Close() }()

	var das []dbApplication
	if err = sqlx.StructScan(rows, &das); err != nil {
		return application.Submission{}, errors.Wrap(err, "finding application")
	}
	if len(das) == 0 {
		return application.Submission{}, application.ErrNotFound
	}
	return repo.unpack(das[0])
}

func (repo applicationRepository) QueryApplications(ctx context.Context, filter *application.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]application.Submission, error) {
	qb := psql.Select(applicationColumns...).From(applicationTable)

	if filter != nil {
		if filter.UserID != "" {
			qb = qb.Where(sq.Eq{"user_id": filter.UserID})
		}
		if filter.Status != "" {
			qb = qb.Where(sq.Eq{"status": filter.Status})
		}
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			qb = qb.Where(sq.Or{
				sq.Expr("personal_info ->> 'firstName' ILIKE ?", val),
				sq.Expr("personal_info ->> 'lastName' ILIKE ?", val),
				sq.Expr("personal_info ->> 'email' ILIKE ?", val),
			})
		}
		if !filter.CreatedFrom.IsZero() {
			qb = qb.Where(sq.GtOrEq{"created_at": filter.CreatedFrom.UTC()})
		}
		if !filter.CreatedTo.IsZero() {
			qb = qb.Where(sq.LtOrEq{"created_at": filter.CreatedTo.UTC()})
		}
	}
	for _, ord := range ordering {
		qb = qb.OrderBy(ord.String())
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "querying applications")
	}
	rows, err := repo.getExec(exec).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying applications")
	}
	defer func() { _ = rows.Close() }()

	var das []dbApplication
	if err = sqlx.StructScan(rows, &das); err != nil {
		return nil, errors.Wrap(err, "querying applications")
	}
	return repo.unpackSlice(das)
}

func (repo applicationRepository) DeleteDraft(ctx context.Context, id string, idn application.Identity, exec ...core.DBExecutor) error {
	if _, err := uuid.Parse(id); err != nil {
		return application.ErrDraftNotFound
	}
	query, args, err := psql.Delete(applicationTable).
		Where(sq.Eq{"id": id, "user_id": idn.ID, "status": application.StatusDraft}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "deleting draft")
	}
	res, err := repo.getExec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "deleting draft")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return application.ErrDraftNotFound
	}
	return nil
}

func (repo applicationRepository) UpdateStatus(ctx context.Context, id, status string, exec ...core.DBExecutor) (application.Submission, error) {
	if _, err := uuid.Parse(id); err != nil {
		return application.Submission{}, application.ErrNotFound
	}
	query, args, err := psql.Update(applicationTable).
		Set("status", status).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return application.Submission{}, errors.Wrap(err, "updating application status")
	}
	res, err := repo.getExec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return application.Submission{}, application.ErrDuplicateSubmission
		}
		return application.Submission{}, errors.Wrap(err, "updating application status")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return application.Submission{}, application.ErrNotFound
	}
	return repo.GetApplication(ctx, application.GetFilter{ID: id}, exec...)
}
