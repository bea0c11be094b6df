package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/maombi/core/program"
)

// starterCatalog is loaded by `admin seedprograms` so a fresh deployment has
// programs to browse. Codes already in the catalog are left untouched.
var starterCatalog = []program.NewProgram{
	{
		Code: "bsc_cs", Name: "Computer Science",
		Description: "Bachelor of Science in Computer Science",
		Courses: []program.NewCourse{
			{Code: "cs_ft", Name: "Computer Science (Full-time)", Duration: "4 years"},
			{Code: "cs_pt", Name: "Computer Science (Part-time)", Duration: "5 years"},
		},
	},
	{
		Code: "bsc_se", Name: "Software Engineering",
		Description: "Bachelor of Science in Software Engineering",
		Courses: []program.NewCourse{
			{Code: "se_ft", Name: "Software Engineering (Full-time)", Duration: "4 years"},
		},
	},
	{
		Code: "bba", Name: "Business Administration",
		Description: "Bachelor of Business Administration",
		Courses: []program.NewCourse{
			{Code: "bba_ft", Name: "Business Administration (Full-time)", Duration: "3 years"},
			{Code: "bba_pt", Name: "Business Administration (Part-time)", Duration: "4 years"},
		},
	},
}

func (cli *commandLine) seedPrograms() error {
	ctx := context.Background()

	var created int
	for _, np := range starterCatalog {
		if _, err := cli.progSvc.GetByCode(ctx, np.Code); err == nil {
			continue
		} else if errors.Cause(err) != program.ErrNotFound {
			return err
		}
		if _, err := cli.progSvc.Create(ctx, np); err != nil {
			return err
		}
		created++
	}
	fmt.Printf("seeded %d of %d programs\n", created, len(starterCatalog))
	return nil
}
