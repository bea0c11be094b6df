// Package docrepos implements the application repository on PostgreSQL JSONB,
// storing each submission as one self-contained document keyed by id. It
// shares the database handle and migration set with the relational binding;
// DB_BINDING selects which of the two is wired in.
package docrepos

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/maombi/core"
	"github.com/trezcool/maombi/core/application"
)

const applicationDocTable = "application_doc"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

type (
	// appDoc is the persisted document shape: the form sections at the top
	// level plus lifecycle attributes and the applicant snapshot.
	appDoc struct {
		ID     string `json:"id"`
		UserID string `json:"userId"`
		Status string `json:"status"`
		application.Application
		Metadata  application.Metadata `json:"metadata"`
		CreatedAt time.Time            `json:"createdAt"`
	}

	dbDoc struct {
		ID  string         `db:"id"`
		Doc types.JSONText `db:"doc"`
	}
)

func (doc appDoc) submission() application.Submission {
	return application.Submission{
		ID:          doc.ID,
		UserID:      doc.UserID,
		Status:      doc.Status,
		Application: doc.Application,
		SubmittedAt: doc.Metadata.SubmissionDate,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.Metadata.LastModified,
	}
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

func (repo applicationRepository) insert(ctx context.Context, doc appDoc, exec ...core.DBExecutor) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encoding document")
	}
	query, args, err := psql.Insert(applicationDocTable).
		Columns("id", "doc").
		Values(doc.ID, types.JSONText(raw)).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "inserting document")
	}
	if _, err = repo.getExec(exec).ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return application.ErrDuplicateSubmission
		}
		return errors.Wrap(err, "inserting document")
	}
	return nil
}

// replace swaps the stored document wholesale; extra conditions scope the
// write. Zero rows means the guarded document is gone or changed hands.
func (repo applicationRepository) replace(ctx context.Context, doc appDoc, conds []sq.Sqlizer, exec ...core.DBExecutor) (int64, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return 0, errors.Wrap(err, "encoding document")
	}
	qb := psql.Update(applicationDocTable).
		Set("doc", types.JSONText(raw)).
		Where(sq.Eq{"id": doc.ID})
	for _, cond := range conds {
		qb = qb.Where(cond)
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "updating document")
	}
	res, err := repo.getExec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, application.ErrDuplicateSubmission
		}
		return 0, errors.Wrap(err, "updating document")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "updating document")
}

func (repo applicationRepository) query(ctx context.Context, qb sq.SelectBuilder, exec ...core.DBExecutor) ([]appDoc, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "querying documents")
	}
	rows, err := repo.getExec(exec).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying documents")
	}
	defer func() { _ = rows.Close() }()

	var dds []dbDoc
	if err = sqlx.StructScan(rows, &dds); err != nil {
		return nil, errors.Wrap(err, "querying documents")
	}
	docs := make([]appDoc, 0, len(dds))
	for _, dd := range dds {
		var doc appDoc
		if err = dd.Doc.Unmarshal(&doc); err != nil {
			return nil, errors.Wrap(err, "decoding document")
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// getDraft fetches a draft scoped by both id and owner.
func (repo applicationRepository) getDraft(ctx context.Context, id string, idn application.Identity, exec ...core.DBExecutor) (appDoc, error) {
	if _, err := uuid.Parse(id); err != nil {
		return appDoc{}, application.ErrDraftNotFound
	}
	qb := psql.Select("id", "doc").From(applicationDocTable).
		Where(sq.Eq{"id": id}).
		Where(sq.Expr("doc ->> 'userId' = ?", idn.ID)).
		Where(sq.Expr("doc ->> 'status' = ?", application.StatusDraft)).
		Limit(1)
	docs, err := repo.query(ctx, qb, exec...)
	if err != nil {
		return appDoc{}, err
	}
	if len(docs) == 0 {
		return appDoc{}, application.ErrDraftNotFound
	}
	return docs[0], nil
}

func (repo applicationRepository) CreateApplication(ctx context.Context, app application.Application, idn application.Identity, exec ...core.DBExecutor) (application.Submission, error) {
	now := time.Now().UTC()
	doc := appDoc{
		ID:          uuid.New().String(),
		UserID:      idn.ID,
		Status:      application.StatusPending,
		Application: app,
		Metadata: application.Metadata{
			UserEmail:      idn.Email,
			UserName:       idn.Name,
			SubmissionDate: now,
			LastModified:   now,
		},
		CreatedAt: now,
	}
	if err := repo.insert(ctx, doc, exec...); err != nil {
		return application.Submission{}, err
	}
	return doc.submission(), nil
}

func (repo applicationRepository) CreateDraft(ctx context.Context, app application.Application, idn application.Identity, exec ...core.DBExecutor) (application.Submission, error) {
	now := time.Now().UTC()
	doc := appDoc{
		ID:          uuid.New().String(),
		UserID:      idn.ID,
		Status:      application.StatusDraft,
		Application: app,
		Metadata: application.Metadata{
			UserEmail:    idn.Email,
			UserName:     idn.Name,
			LastModified: now,
		},
		CreatedAt: now,
	}
	if err := repo.insert(ctx, doc, exec...); err != nil {
		return application.Submission{}, err
	}
	return doc.submission(), nil
}

func (repo applicationRepository) UpdateDraft(ctx context.Context, id string, app application.Application, idn application.Identity, exec ...core.DBExecutor) (application.Submission, error) {
	doc, err := repo.getDraft(ctx, id, idn, exec...)
	if err != nil {
		return application.Submission{}, err
	}
	doc.Application = app
	doc.Metadata.LastModified = time.Now().UTC()

	n, err := repo.replace(ctx, doc, draftGuard(idn), exec...)
	if err != nil {
		return application.Submission{}, err
	}
	if n == 0 {
		return application.Submission{}, application.ErrDraftNotFound
	}
	return doc.submission(), nil
}

func (repo applicationRepository) PromoteDraft(ctx context.Context, id string, app application.Application, idn application.Identity, exec ...core.DBExecutor) (application.Submission, error) {
	doc, err := repo.getDraft(ctx, id, idn, exec...)
	if err != nil {
		return application.Submission{}, err
	}
	now := time.Now().UTC()
	doc.Status = application.StatusPending
	doc.Application = app
	doc.Metadata.SubmissionDate = now
	doc.Metadata.LastModified = now

	// the partial unique index on (doc ->> 'userId') WHERE pending enforces
	// the one-pending-application rule on this write
	n, err := repo.replace(ctx, doc, draftGuard(idn), exec...)
	if err != nil {
		return application.Submission{}, err
	}
	if n == 0 {
		return application.Submission{}, application.ErrDraftNotFound
	}
	return doc.submission(), nil
}

func (repo applicationRepository) GetApplication(ctx context.Context, filter application.GetFilter, exec ...core.DBExecutor) (application.Submission, error) {
	qb := psql.Select("id", "doc").From(applicationDocTable)

	if filter.ID != "" {
		if _, err := uuid.Parse(filter.ID); err != nil {
			return application.Submission{}, application.ErrNotFound
		}
		qb = qb.Where(sq.Eq{"id": filter.ID})
	}
	if filter.UserID != "" {
		qb = qb.Where(sq.Expr("doc ->> 'userId' = ?", filter.UserID))
	}
	if filter.Status != "" {
		qb = qb.Where(sq.Expr("doc ->> 'status' = ?", filter.Status))
	}
	if filter.ID == "" && filter.UserID == "" {
		return application.Submission{}, application.ErrNotFound
	}

	docs, err := repo.query(ctx, qb.Limit(1), exec...)
	if err != nil {
		return application.Submission{}, err
	}
	if len(docs) == 0 {
		return application.Submission{}, application.ErrNotFound
	}
	return docs[0].submission(), nil
}

func (repo applicationRepository) QueryApplications(ctx context.Context, filter *application.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]application.Submission, error) {
	qb := psql.Select("id", "doc").From(applicationDocTable)

	if filter != nil {
		if filter.UserID != "" {
			qb = qb.Where(sq.Expr("doc ->> 'userId' = ?", filter.UserID))
		}
		if filter.Status != "" {
			qb = qb.Where(sq.Expr("doc ->> 'status' = ?", filter.Status))
		}
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			qb = qb.Where(sq.Or{
				sq.Expr("doc -> 'personalInfo' ->> 'firstName' ILIKE ?", val),
				sq.Expr("doc -> 'personalInfo' ->> 'lastName' ILIKE ?", val),
				sq.Expr("doc -> 'personalInfo' ->> 'email' ILIKE ?", val),
			})
		}
		if !filter.CreatedFrom.IsZero() {
			qb = qb.Where(sq.Expr("(doc ->> 'createdAt')::timestamptz >= ?", filter.CreatedFrom.UTC()))
		}
		if !filter.CreatedTo.IsZero() {
			qb = qb.Where(sq.Expr("(doc ->> 'createdAt')::timestamptz <= ?", filter.CreatedTo.UTC()))
		}
	}
	for _, ord := range ordering {
		qb = qb.OrderBy(orderExpr(ord))
	}

	docs, err := repo.query(ctx, qb, exec...)
	if err != nil {
		return nil, err
	}
	subs := make([]application.Submission, 0, len(docs))
	for _, doc := range docs {
		subs = append(subs, doc.submission())
	}
	return subs, nil
}

func (repo applicationRepository) DeleteDraft(ctx context.Context, id string, idn application.Identity, exec ...core.DBExecutor) error {
	if _, err := uuid.Parse(id); err != nil {
		return application.ErrDraftNotFound
	}
	query, args, err := psql.Delete(applicationDocTable).
		Where(sq.Eq{"id": id}).
		Where(sq.Expr("doc ->> 'userId' = ?", idn.ID)).
		Where(sq.Expr("doc ->> 'status' = ?", application.StatusDraft)).
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
	qb := psql.Select("id", "doc").From(applicationDocTable).Where(sq.Eq{"id": id}).Limit(1)
	docs, err := repo.query(ctx, qb, exec...)
	if err != nil {
		return application.Submission{}, err
	}
	if len(docs) == 0 {
		return application.Submission{}, application.ErrNotFound
	}
	doc := docs[0]
	doc.Status = status
	doc.Metadata.LastModified = time.Now().UTC()

	n, err := repo.replace(ctx, doc, nil, exec...)
	if err != nil {
		return application.Submission{}, err
	}
	if n == 0 {
		return application.Submission{}, application.ErrNotFound
	}
	return doc.submission(), nil
}

// draftGuard scopes a write to drafts owned by idn.
func draftGuard(idn application.Identity) []sq.Sqlizer {
	return []sq.Sqlizer{
		sq.Expr("doc ->> 'userId' = ?", idn.ID),
		sq.Expr("doc ->> 'status' = ?", application.StatusDraft),
	}
}
