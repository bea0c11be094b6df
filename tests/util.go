package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/maombi/core/application"
	"github.com/trezcool/maombi/core/program"
	"github.com/trezcool/maombi/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateProgram(
	t *testing.T,
	repo program.Repository,
	code, name string,
	isActive bool,
	courses ...program.Course,
) program.Program {
	t.Helper()

	now := time.Now().UTC()
	if len(courses) == 0 {
		courses = []program.Course{{Code: code + "-101", Name: name + " Fundamentals", Duration: "2 years"}}
	}
	for i := range courses {
		courses[i].CreatedAt = now
		courses[i].UpdatedAt = now
	}
	prog := program.Program{
		Code:      code,
		Name:      name,
		Courses:   courses,
		CreatedAt: now,
		UpdatedAt: now,
	}
	prog.SetActive(isActive)
	prog, err := repo.CreateProgram(context.Background(), prog)
	if err != nil {
		t.Fatalf("CreateProgram() failed: %v", err)
	}
	return prog
}

func CreateDraft(
	t *testing.T,
	repo application.Repository,
	idn application.Identity,
	app application.Application,
) application.Submission {
	t.Helper()

	sub, err := repo.CreateDraft(context.Background(), app, idn)
	if err != nil {
		t.Fatalf("CreateDraft() failed: %v", err)
	}
	return sub
}

func CreateApplication(
	t *testing.T,
	repo application.Repository,
	idn application.Identity,
	app application.Application,
) application.Submission {
	t.Helper()

	sub, err := repo.CreateApplication(context.Background(), app, idn)
	if err != nil {
		t.Fatalf("CreateApplication() failed: %v", err)
	}
	return sub
}

// ValidApplication returns a complete admission form that passes the full
// schema, targeting the given program and course.
func ValidApplication(programID, courseID string) application.Application {
	return application.Application{
		PersonalInfo: application.PersonalInfo{
			FirstName:     "Ngozi",
			LastName:      "Obi",
			Email:         "ngozi.obi@test.ng",
			Phone:         "+2348031234567",
			DateOfBirth:   "2000-05-15",
			Gender:        "female",
			Address:       "12 Marina Road, Lagos",
			Nationality:   "Nigerian",
			StateOfOrigin: "Anambra",
		},
		AcademicBackground: application.AcademicBackground{
			EducationLevel: "ssce",
			Certificates: []application.Certificate{
				{Type: "WAEC", Grade: "B2", Year: "2019"},
			},
		},
		ProgramSelection: application.ProgramSelection{
			ProgramID:   programID,
			CourseID:    courseID,
			StartDate:   "2026-09-01",
			StudyMode:   "full-time",
			CareerGoals: "Build reliable payment systems for local businesses",
		},
		Accommodation: application.Accommodation{
			NeedsAccommodation:  true,
			SponsorshipType:     "guardian",
			SponsorName:         "Emeka Obi",
			SponsorRelationship: "Father",
			SponsorContact:      "+2348022223333",
		},
		Referee: application.Referee{
			Name:         "Funke Alabi",
			Email:        "f.alabi@test.ng",
			Phone:        "+2348098765432",
			Relationship: "Mentor",
			Organization: "Zuma College",
			Position:     "Lecturer",
		},
	}
}
