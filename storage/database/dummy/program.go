package dummydb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/maombi/core"
	"github.com/trezcool/maombi/core/program"
)

type programRepository struct {
	db *programTable
}

var _ program.Repository = (*programRepository)(nil) // interface compliance check

func NewProgramRepository(db *DB) program.Repository {
	return &programRepository{db: db.program}
}

func (repo *programRepository) query() []program.Program {
	progs := make([]program.Program, 0, len(repo.db.table))
	for _, prog := range repo.db.table {
		progs = append(progs, *prog)
	}
	return progs
}

func (repo *programRepository) CreateProgram(_ context.Context, prog program.Program, _ ...core.DBExecutor) (program.Program, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, existing := range repo.db.table {
		if existing.Code == prog.Code {
			return program.Program{}, core.NewValidationError(nil, core.FieldError{
				Field: "code", Error: "a program with this code already exists"})
		}
	}

	prog.ID = uuid.New().String()
	for i := range prog.Courses {
		prog.Courses[i].ID = uuid.New().String()
		prog.Courses[i].ProgramID = prog.ID
	}
	repo.db.table[prog.ID] = &prog
	return prog, nil
}

func (repo *programRepository) QueryPrograms(_ context.Context, filter *program.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]program.Program, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	progs := repo.query()

	if filter != nil {
		if filter.Search != "" {
			search := strings.ToLower(filter.Search)
			var filtered []program.Program
			for _, prog := range progs {
				if strings.Contains(strings.ToLower(prog.Code), search) ||
					strings.Contains(strings.ToLower(prog.Name), search) {
					filtered = append(filtered, prog)
				}
			}
			progs = filtered
		}
		if filter.IsActive != nil {
			var filtered []program.Program
			for _, prog := range progs {
				if prog.IsActive != nil && *prog.IsActive == *filter.IsActive {
					filtered = append(filtered, prog)
				}
			}
			progs = filtered
		}
	}

	if len(ordering) > 0 {
		ord := ordering[0]
		sort.SliceStable(progs, func(i, j int) bool {
			var less bool
			switch ord.Field {
			case "name":
				less = progs[i].Name < progs[j].Name
			default:
				less = progs[i].Code < progs[j].Code
			}
			if ord.Ascending {
				return less
			}
			return !less
		})
	}
	return progs, nil
}

func (repo *programRepository) GetProgram(_ context.Context, filter program.GetFilter, _ ...core.DBExecutor) (program.Program, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	switch {
	case filter.ID != "":
		if prog, ok := repo.db.table[filter.ID]; ok {
			return *prog, nil
		}
	case filter.Code != "":
		for _, prog := range repo.query() {
			if prog.Code == filter.Code {
				return prog, nil
			}
		}
	}
	return program.Program{}, program.ErrNotFound
}

func (repo *programRepository) UpdateProgram(_ context.Context, prog program.Program, _ ...core.DBExecutor) (program.Program, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	origProg, ok := repo.db.table[prog.ID]
	if !ok {
		return program.Program{}, program.ErrNotFound
	}

	origProg.Code = prog.Code
	origProg.Name = prog.Name
	origProg.Description = prog.Description
	if prog.IsActive != nil {
		origProg.IsActive = prog.IsActive
	}
	origProg.UpdatedAt = time.Now().UTC()

	return *origProg, nil
}
