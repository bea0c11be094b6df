package application

import (
	"time"

	"github.com/trezcool/maombi/core"
)

// Application lifecycle. This service only ever writes StatusDraft and
// StatusPending; approved/rejected are set by admissions staff.
const (
	StatusDraft    = "draft"
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

var Statuses = []string{StatusDraft, StatusPending, StatusApproved, StatusRejected}

// Identity is the authenticated applicant on whose behalf an operation runs.
// It is resolved fresh by the caller for every attempt and passed in
// explicitly; a nil Identity refuses any remote work.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Application is the admission form aggregate, five independently validated
// sections. Field names follow the persisted document shape.
type (
	Application struct {
		PersonalInfo       PersonalInfo       `json:"personalInfo"`
		AcademicBackground AcademicBackground `json:"academicBackground"`
		ProgramSelection   ProgramSelection   `json:"programSelection"`
		Accommodation      Accommodation      `json:"accommodation"`
		Referee            Referee            `json:"referee"`
	}

	PersonalInfo struct {
		FirstName         string `json:"firstName" validate:"appname,min=2,max=50"`
		LastName          string `json:"lastName" validate:"appname,min=2,max=50"`
		Email             string `json:"email" validate:"required,email"`
		Phone             string `json:"phone" validate:"required,e164ng"`
		DateOfBirth       string `json:"dateOfBirth" validate:"required,appdate,eligibleage"`
		Gender            string `json:"gender" validate:"required,oneof=male female other"`
		Address           string `json:"address" validate:"min=10,max=200"`
		Nationality       string `json:"nationality" validate:"required"`
		StateOfOrigin     string `json:"stateOfOrigin" validate:"required"`
		Religion          string `json:"religion,omitempty"`
		HasDisability     bool   `json:"hasDisability"`
		DisabilityDetails string `json:"disabilityDetails,omitempty"`
	}

	AcademicBackground struct {
		EducationLevel        string        `json:"educationLevel" validate:"required,oneof=none primary js jsse ssce tertiary"`
		TertiaryEducationType string        `json:"tertiaryEducationType,omitempty"`
		Certificates          []Certificate `json:"certificates,omitempty" validate:"omitempty,dive"`
	}

	Certificate struct {
		Type  string `json:"type" validate:"required"`
		Grade string `json:"grade" validate:"required"`
		Year  string `json:"year" validate:"required,certyear"`
	}

	ProgramSelection struct {
		ProgramID          string `json:"programId" validate:"required"`
		CourseID           string `json:"courseId" validate:"required"`
		StartDate          string `json:"startDate" validate:"required,appdate"`
		StudyMode          string `json:"studyMode" validate:"required,oneof=full-time part-time weekend"`
		PreviousExperience string `json:"previousExperience,omitempty"`
		CareerGoals        string `json:"careerGoals" validate:"min=10,max=500"`
	}

	Accommodation struct {
		NeedsAccommodation  bool   `json:"needsAccommodation"`
		SponsorshipType     string `json:"sponsorshipType" validate:"required,oneof=self organization guardian"`
		SponsorName         string `json:"sponsorName" validate:"required"`
		SponsorRelationship string `json:"sponsorRelationship" validate:"required"`
		SponsorContact      string `json:"sponsorContact" validate:"required"`
	}

	Referee struct {
		Name         string `json:"name" validate:"min=2,max=100"`
		Email        string `json:"email" validate:"required,email"`
		Phone        string `json:"phone" validate:"required,e164ng"`
		Relationship string `json:"relationship" validate:"required"`
		Organization string `json:"organization" validate:"required"`
		Position     string `json:"position" validate:"required"`
	}
)

// Clean normalizes free-text input in place.
func (app *Application) Clean() {
	app.PersonalInfo.Clean()
	app.AcademicBackground.Clean()
	app.ProgramSelection.Clean()
	app.Accommodation.Clean()
	app.Referee.Clean()
}

func (pi *PersonalInfo) Clean() {
	pi.FirstName = core.CleanString(pi.FirstName)
	pi.LastName = core.CleanString(pi.LastName)
	pi.Email = core.CleanString(pi.Email, true /* lower */)
	pi.Phone = core.CleanString(pi.Phone)
	pi.Gender = core.CleanString(pi.Gender, true /* lower */)
	pi.Address = core.CleanString(pi.Address)
	pi.Nationality = core.CleanString(pi.Nationality)
	pi.StateOfOrigin = core.CleanString(pi.StateOfOrigin)
	pi.Religion = core.CleanString(pi.Religion)
	pi.DisabilityDetails = core.CleanString(pi.DisabilityDetails)
}

func (ab *AcademicBackground) Clean() {
	ab.EducationLevel = core.CleanString(ab.EducationLevel, true /* lower */)
	ab.TertiaryEducationType = core.CleanString(ab.TertiaryEducationType)
	for i := range ab.Certificates {
		cert := &ab.Certificates[i]
		cert.Type = core.CleanString(cert.Type)
		cert.Grade = core.CleanString(cert.Grade)
		cert.Year = core.CleanString(cert.Year)
	}
}

func (ps *ProgramSelection) Clean() {
	ps.StudyMode = core.CleanString(ps.StudyMode, true /* lower */)
	ps.PreviousExperience = core.CleanString(ps.PreviousExperience)
	ps.CareerGoals = core.CleanString(ps.CareerGoals)
}

func (acc *Accommodation) Clean() {
	acc.SponsorshipType = core.CleanString(acc.SponsorshipType, true /* lower */)
	acc.SponsorName = core.CleanString(acc.SponsorName)
	acc.SponsorRelationship = core.CleanString(acc.SponsorRelationship)
	acc.SponsorContact = core.CleanString(acc.SponsorContact)
}

func (ref *Referee) Clean() {
	ref.Name = core.CleanString(ref.Name)
	ref.Email = core.CleanString(ref.Email, true /* lower */)
	ref.Phone = core.CleanString(ref.Phone)
	ref.Relationship = core.CleanString(ref.Relationship)
	ref.Organization = core.CleanString(ref.Organization)
	ref.Position = core.CleanString(ref.Position)
}

// Metadata is the audit subobject persisted by the document binding.
type Metadata struct {
	UserEmail      string    `json:"userEmail"`
	UserName       string    `json:"userName"`
	SubmissionDate time.Time `json:"submissionDate"`
	LastModified   time.Time `json:"lastModified"`
}

// Submission is a persisted Application with its lifecycle attributes.
type Submission struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Status string `json:"status"`
	Application
	SubmittedAt time.Time `json:"submittedAt"`
	CreatedAt   time.Time `json:"createdAt"` // UTC
	UpdatedAt   time.Time `json:"updatedAt"` // UTC
}

// SubmitResult is the terminal outcome of a submission attempt. Err carries
// the failure for the transport layer to map; it never reaches the client
// as-is.
type SubmitResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
	Err     error  `json:"-"`
}

type QueryFilter struct {
	UserID      string    `query:"-"`
	Status      string    `query:"status"`
	Search      string    `query:"search"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

func (qf *QueryFilter) Clean() {
	qf.Status = core.CleanString(qf.Status, true /* lower */)
	qf.Search = core.CleanString(qf.Search)
}

// GetFilter fetches a single Submission. A non-empty UserID scopes the read
// to that owner.
type GetFilter struct {
	ID     string
	UserID string
	Status string
}
