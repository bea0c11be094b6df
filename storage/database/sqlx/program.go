package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/maombi/core"
	"github.com/trezcool/maombi/core/program"
)

const (
	programTable = "program"
	courseTable  = "course"
)

var (
	programColumns = []string{"id", "code", "name", "description", "is_active", "created_at", "updated_at"}
	courseColumns  = []string{"id", "program_id", "code", "name", "duration", "created_at", "updated_at"}
)

type (
	dbProgram struct {
		ID          string      `db:"id"`
		Code        string      `db:"code"`
		Name        string      `db:"name"`
		Description null.String `db:"description"`
		IsActive    null.Bool   `db:"is_active"`
		CreatedAt   null.Time   `db:"created_at"`
		UpdatedAt   null.Time   `db:"updated_at"`
	}

	dbCourse struct {
		ID        string      `db:"id"`
		ProgramID string      `db:"program_id"`
		Code      string      `db:"code"`
		Name      string      `db:"name"`
		Duration  null.String `db:"duration"`
		CreatedAt null.Time   `db:"created_at"`
		UpdatedAt null.Time   `db:"updated_at"`
	}
)

type programRepository struct {
	db core.DB
}

var _ program.Repository = (*programRepository)(nil) // interface compliance check

func NewProgramRepository(db core.DB) *programRepository {
	return &programRepository{db: db}
}

func (repo programRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 {
		return svcExec[0]
	}
	return repo.db
}

func (repo programRepository) pack(prog program.Program) dbProgram {
	return dbProgram{
		ID:          prog.ID,
		Code:        prog.Code,
		Name:        prog.Name,
		Description: null.NewString(prog.Description, prog.Description != ""),
		IsActive:    null.BoolFromPtr(prog.IsActive),
		CreatedAt:   null.NewTime(prog.CreatedAt.UTC(), !prog.CreatedAt.IsZero()),
		UpdatedAt:   null.NewTime(prog.UpdatedAt.UTC(), !prog.UpdatedAt.IsZero()),
	}
}

func (repo programRepository) packCourse(course program.Course) dbCourse {
	return dbCourse{
		ID:        course.ID,
		ProgramID: course.ProgramID,
		Code:      course.Code,
		Name:      course.Name,
		Duration:  null.NewString(course.Duration, course.Duration != ""),
		CreatedAt: null.NewTime(course.CreatedAt.UTC(), !course.CreatedAt.IsZero()),
		UpdatedAt: null.NewTime(course.UpdatedAt.UTC(), !course.UpdatedAt.IsZero()),
	}
}

func (repo programRepository) unpack(dp dbProgram, courses []program.Course) program.Program {
	return program.Program{
		ID:          dp.ID,
		Code:        dp.Code,
		Name:        dp.Name,
		Description: dp.Description.String,
		IsActive:    dp.IsActive.Ptr(),
		Courses:     courses,
		CreatedAt:   dp.CreatedAt.Time,
		UpdatedAt:   dp.UpdatedAt.Time,
	}
}

func (repo programRepository) unpackCourse(dc dbCourse) program.Course {
	return program.Course{
		ID:        dc.ID,
		ProgramID: dc.ProgramID,
		Code:      dc.Code,
		Name:      dc.Name,
		Duration:  dc.Duration.String,
		CreatedAt: dc.CreatedAt.Time,
		UpdatedAt: dc.UpdatedAt.Time,
	}
}

func (repo programRepository) CreateProgram(ctx context.Context, prog program.Program, exec ...core.DBExecutor) (program.Program, error) {
	prog.ID = uuid.New().String()
	for i := range prog.Courses {
		prog.Courses[i].ID = uuid.New().String()
		prog.Courses[i].ProgramID = prog.ID
	}

	insert := func(exe core.DBExecutor) error {
		dp := repo.pack(prog)
		query, args, err := psql.Insert(programTable).
			Columns(programColumns...).
			Values(dp.ID, dp.Code, dp.Name, dp.Description, dp.IsActive, dp.CreatedAt, dp.UpdatedAt).
			ToSql()
		if err != nil {
			return errors.Wrap(err, "inserting program")
		}
		if _, err = exe.ExecContext(ctx, query, args...); err != nil {
			if isUniqueViolation(err) {
				return core.NewValidationError(nil, core.FieldError{
					Field: "code", Error: "a program with this code already exists"})
			}
			return errors.Wrap(err, "inserting program")
		}

		if len(prog.Courses) == 0 {
			return nil
		}
		qb := psql.Insert(courseTable).Columns(courseColumns...)
		for _, course := range prog.Courses {
			dc := repo.packCourse(course)
			qb = qb.Values(dc.ID, dc.ProgramID, dc.Code, dc.Name, dc.Duration, dc.CreatedAt, dc.UpdatedAt)
		}
		if query, args, err = qb.ToSql(); err != nil {
			return errors.Wrap(err, "inserting courses")
		}
		if _, err = exe.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrap(err, "inserting courses")
		}
		return nil
	}

	// the program and its courses land together or not at all
	var err error
	if len(exec) > 0 {
		err = insert(exec[0])
	} else {
		err = runInTx(ctx, repo.db, func(tx core.DBTransactor) error { return insert(tx) })
	}
	if err != nil {
		return program.Program{}, err
	}
	return prog, nil
}

func (repo programRepository) QueryPrograms(ctx context.Context, filter *program.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]program.Program, error) {
	qb := psql.Select(programColumns...).From(programTable)

	if filter != nil {
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			qb = qb.Where(sq.Or{
				sq.ILike{"code": val},
				sq.ILike{"name": val},
			})
		}
		if filter.IsActive != nil {
			qb = qb.Where(sq.Eq{"is_active": *filter.IsActive})
		}
	}
	for _, ord := range ordering {
		qb = qb.OrderBy(ord.String())
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "querying programs")
	}
	exe := repo.getExec(exec)
	rows, err := exe.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying programs")
	}
	defer func() { _ = rows.Close() }()

	var dps []dbProgram
	if err = sqlx.StructScan(rows, &dps); err != nil {
		return nil, errors.Wrap(err, "querying programs")
	}
	if len(dps) == 0 {
		return []program.Program{}, nil
	}

	ids := make([]string, 0, len(dps))
	for _, dp := range dps {
		ids = append(ids, dp.ID)
	}
	courses, err := repo.loadCourses(ctx, exe, ids)
	if err != nil {
		return nil, err
	}

	progs := make([]program.Program, 0, len(dps))
	for _, dp := range dps {
		progs = append(progs, repo.unpack(dp, courses[dp.ID]))
	}
	return progs, nil
}

func (repo programRepository) GetProgram(ctx context.Context, filter program.GetFilter, exec ...core.DBExecutor) (program.Program, error) {
	qb := psql.Select(programColumns...).From(programTable)

	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return program.Program{}, program.ErrNotFound
		}
		qb = qb.Where(sq.Eq{"id": filter.ID})
	case filter.Code != "":
		qb = qb.Where(sq.Eq{"code": filter.Code})
	default:
		return program.Program{}, program.ErrNotFound
	}

	query, args, err := qb.Limit(1).ToSql()
	if err != nil {
		return program.Program{}, errors.Wrap(err, "finding program")
	}
	exe := repo.getExec(exec)
	rows, err := exe.QueryContext(ctx, query, args...)
	if err != nil {
		return program.Program{}, errors.Wrap(err, "finding program")
	}
	defer func() { _ = rows.Close() }()

	var dps []dbProgram
	if err = sqlx.StructScan(rows, &dps); err != nil {
		return program.Program{}, errors.Wrap(err, "finding program")
	}
	if len(dps) == 0 {
		return program.Program{}, program.ErrNotFound
	}

	courses, err := repo.loadCourses(ctx, exe, []string{dps[0].ID})
	if err != nil {
		return program.Program{}, err
	}
	return repo.unpack(dps[0], courses[dps[0].ID]), nil
}

func (repo programRepository) UpdateProgram(ctx context.Context, prog program.Program, exec ...core.DBExecutor) (program.Program, error) {
	dp := repo.pack(prog)
	qb := psql.Update(programTable).
		Set("code", dp.Code).
		Set("name", dp.Name).
		Set("description", dp.Description).
		Set("updated_at", dp.UpdatedAt).
		Where(sq.Eq{"id": prog.ID})
	if prog.IsActive != nil {
		qb = qb.Set("is_active", dp.IsActive)
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return program.Program{}, errors.Wrap(err, "updating program")
	}
	res, err := repo.getExec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		return program.Program{}, errors.Wrap(err, "updating program")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return program.Program{}, program.ErrNotFound
	}
	return repo.GetProgram(ctx, program.GetFilter{ID: prog.ID}, exec...)
}

// loadCourses fetches the courses of the given programs, keyed by program id.
func (repo programRepository) loadCourses(ctx context.Context, exe core.DBExecutor, progIDs []string) (map[string][]program.Course, error) {
	query, args, err := psql.Select(courseColumns...).
		From(courseTable).
		Where(sq.Eq{"program_id": progIDs}).
		OrderBy("code ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	rows, err := exe.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	defer func() { _ = rows.Close() }()

	var dcs []dbCourse
	if err = sqlx.StructScan(rows, &dcs); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}

	courses := make(map[string][]program.Course, len(progIDs))
	for _, dc := range dcs {
		courses[dc.ProgramID] = append(courses[dc.ProgramID], repo.unpackCourse(dc))
	}
	return courses, nil
}
