package program

import (
	"context"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/maombi/core"
)

var (
	// errors
	ErrNotFound       = errors.New("program not found")
	ErrCourseNotFound = errors.New("course not found for this program")
	ErrProgramClosed  = errors.New("program is closed for applications")
)

type (
	// Repository persists and fetches the Program catalog. An optional exec
	// overrides the default DB handle, typically with an open transaction.
	Repository interface {
		// CreateProgram inserts a Program and all its Courses atomically.
		CreateProgram(ctx context.Context, prog Program, exec ...core.DBExecutor) (Program, error)
		QueryPrograms(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Program, error)
		GetProgram(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Program, error)
		UpdateProgram(ctx context.Context, prog Program, exec ...core.DBExecutor) (Program, error)
	}

	Service interface {
		Create(ctx context.Context, np NewProgram) (Program, error)
		Query(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]Program, error)
		GetByID(ctx context.Context, id string) (Program, error)
		GetByCode(ctx context.Context, code string) (Program, error)
		SetActive(ctx context.Context, id string, active bool) (Program, error)
		// CheckSelection verifies that the selected program is open for
		// applications and offers the selected course.
		CheckSelection(ctx context.Context, programID, courseID string) error
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(repo Repository) Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
	).CheckAndPanic()

	return &service{repo: repo}
}

func (svc *service) Create(ctx context.Context, np NewProgram) (Program, error) {
	now := time.Now().UTC()
	prog := Program{
		Code:        np.Code,
		Name:        np.Name,
		Description: np.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	prog.SetActive(true)
	for _, nc := range np.Courses {
		prog.Courses = append(prog.Courses, Course{
			Code:      nc.Code,
			Name:      nc.Name,
			Duration:  nc.Duration,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return svc.repo.CreateProgram(ctx, prog)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]Program, error) {
	return svc.repo.QueryPrograms(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (Program, error) {
	return svc.repo.GetProgram(ctx, GetFilter{ID: id})
}

func (svc *service) GetByCode(ctx context.Context, code string) (Program, error) {
	return svc.repo.GetProgram(ctx, GetFilter{Code: core.CleanString(code, true /* lower */)})
}

func (svc *service) SetActive(ctx context.Context, id string, active bool) (Program, error) {
	prog, err := svc.GetByID(ctx, id)
	if err != nil {
		return Program{}, err
	}
	prog.SetActive(active)
	prog.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateProgram(ctx, prog)
}

func (svc *service) CheckSelection(ctx context.Context, programID, courseID string) error {
	prog, err := svc.GetByID(ctx, programID)
	if err != nil {
		return err
	}
	if prog.IsActive != nil && !*prog.IsActive {
		return ErrProgramClosed
	}
	for _, course := range prog.Courses {
		if course.ID == courseID {
			return nil
		}
	}
	return ErrCourseNotFound
}
