package program

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/maombi/core"
)

type Program struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsActive    *bool     `json:"is_active"`
	Courses     []Course  `json:"courses,omitempty"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

func (p *Program) SetActive(active bool) { p.IsActive = &active }

// Course is a stream of study offered under a Program.
type Course struct {
	ID        string    `json:"id"`
	ProgramID string    `json:"program_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Duration  string    `json:"duration"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// NewProgram contains information needed to create a new Program and its Courses.
type NewProgram struct {
	Code        string      `json:"code" validate:"required,alphanum_"`
	Name        string      `json:"name" validate:"required"`
	Description string      `json:"description"`
	Courses     []NewCourse `json:"courses" validate:"required,min=1,dive"`
}

type NewCourse struct {
	Code     string `json:"code" validate:"required,alphanum_"`
	Name     string `json:"name" validate:"required"`
	Duration string `json:"duration" validate:"required"`
}

func (np *NewProgram) Validate(validate *validator.Validate) error {
	np.Code = core.CleanString(np.Code, true /* lower */)
	np.Name = core.CleanString(np.Name)
	np.Description = core.CleanString(np.Description)
	for i := range np.Courses {
		np.Courses[i].Code = core.CleanString(np.Courses[i].Code, true /* lower */)
		np.Courses[i].Name = core.CleanString(np.Courses[i].Name)
		np.Courses[i].Duration = core.CleanString(np.Courses[i].Duration)
	}
	return validate.Struct(np)
}

type QueryFilter struct {
	Search   string `query:"search"`
	IsActive *bool  `query:"is_active"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// GetFilter fetches a single Program by one of its unique attributes.
type GetFilter struct {
	ID   string
	Code string
}
