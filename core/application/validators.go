package application

import (
	"regexp"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/maombi/core"
)

var (
	appNameTag  = "appname"
	appNameText = "only letters and spaces are allowed"
	nameRegex   = regexp.MustCompile(`^[A-Za-z ]*$`)

	e164Tag    = "e164ng"
	e164Text   = "must start with '+' followed by the country code and number, e.g. +2348031234567"
	phoneRegex = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

	appDateTag  = "appdate"
	appDateText = "must be a valid date in YYYY-MM-DD format"
	dateLayout  = "2006-01-02"

	eligibleAgeTag  = "eligibleage"
	eligibleAgeText = "applicants must be at least 18 years old"
	// applicants must be born on or before this date: 2025-02-27 minus 18 years,
	// a fixed enrollment cutoff rather than a rolling check.
	eligibilityCutoff = time.Date(2007, time.February, 27, 0, 0, 0, 0, time.UTC)

	certYearTag  = "certyear"
	certYearText = "must be a 4-digit year"
	yearRegex    = regexp.MustCompile(`^\d{4}$`)

	refereeEmailTag  = "refemail"
	refereeEmailText = "referee email must be different from the applicant's email"
)

// InitValidators registers application validators and their translations on
// the given validator instance.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(appNameTag, appNameValidation)
	core.RegisterCustomTranslation(validate, translator, appNameTag, appNameText)

	_ = validate.RegisterValidation(e164Tag, e164Validation)
	core.RegisterCustomTranslation(validate, translator, e164Tag, e164Text)

	_ = validate.RegisterValidation(appDateTag, appDateValidation)
	core.RegisterCustomTranslation(validate, translator, appDateTag, appDateText)

	_ = validate.RegisterValidation(eligibleAgeTag, eligibleAgeValidation)
	core.RegisterCustomTranslation(validate, translator, eligibleAgeTag, eligibleAgeText)

	_ = validate.RegisterValidation(certYearTag, certYearValidation)
	core.RegisterCustomTranslation(validate, translator, certYearTag, certYearText)

	validate.RegisterStructValidation(applicationStructValidation, Application{})
	core.RegisterCustomTranslation(validate, translator, refereeEmailTag, refereeEmailText)
}

// Custom Validators

// appNameValidation checks the name character class only; length is left to
// the min/max tags so an empty string fails on length, not on characters.
func appNameValidation(fl validator.FieldLevel) bool {
	return nameRegex.MatchString(fl.Field().String())
}

func e164Validation(fl validator.FieldLevel) bool {
	return phoneRegex.MatchString(fl.Field().String())
}

func appDateValidation(fl validator.FieldLevel) bool {
	_, err := time.Parse(dateLayout, fl.Field().String())
	return err == nil
}

func eligibleAgeValidation(fl validator.FieldLevel) bool {
	dob, err := time.Parse(dateLayout, fl.Field().String())
	if err != nil {
		return false
	}
	return !dob.After(eligibilityCutoff)
}

func certYearValidation(fl validator.FieldLevel) bool {
	return yearRegex.MatchString(fl.Field().String())
}

// applicationStructValidation runs cross-section checks on the assembled
// aggregate. The referee/applicant email clash attaches to the referee email
// field, the section-level rules having already run.
func applicationStructValidation(sl validator.StructLevel) {
	app, ok := sl.Current().Interface().(Application)
	if !ok {
		return
	}
	if app.Referee.Email != "" && strings.EqualFold(app.Referee.Email, app.PersonalInfo.Email) {
		sl.ReportError(app.Referee.Email, "referee.email", "Referee.Email", refereeEmailTag, "")
	}
}

// Validate runs the full schema on the aggregate: per-field rules on every
// section, then cross-section rules. Violations come back as a
// *core.ValidationError carrying (field path, message) pairs; the paths use
// the persisted field names (personalInfo.firstName, referee.email, ...).
func (app *Application) Validate(validate *validator.Validate) error {
	app.Clean()
	return toValidationError(validate.Struct(app), "")
}

func (pi *PersonalInfo) Validate(validate *validator.Validate) error {
	pi.Clean()
	return toValidationError(validate.Struct(pi), "personalInfo")
}

func (ab *AcademicBackground) Validate(validate *validator.Validate) error {
	ab.Clean()
	return toValidationError(validate.Struct(ab), "academicBackground")
}

func (ps *ProgramSelection) Validate(validate *validator.Validate) error {
	ps.Clean()
	return toValidationError(validate.Struct(ps), "programSelection")
}

func (acc *Accommodation) Validate(validate *validator.Validate) error {
	acc.Clean()
	return toValidationError(validate.Struct(acc), "accommodation")
}

func (ref *Referee) Validate(validate *validator.Validate) error {
	ref.Clean()
	return toValidationError(validate.Struct(ref), "referee")
}

// toValidationError converts validator.ValidationErrors into a
// *core.ValidationError, stripping the root struct segment from each
// namespace and prefixing the section path when validating a lone section.
func toValidationError(err error, prefix string) error {
	if err == nil {
		return nil
	}
	vErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	flds := make([]core.FieldError, 0, len(vErrs))
	for _, fe := range vErrs {
		path := trimRootNamespace(fe.Namespace())
		if prefix != "" {
			path = prefix + "." + path
		}
		flds = append(flds, core.FieldError{Field: path, Error: fe.Translate(core.Translator)})
	}
	return core.NewValidationError(nil, flds...)
}

func trimRootNamespace(ns string) string {
	if i := strings.Index(ns, "."); i != -1 {
		return ns[i+1:]
	}
	return ns
}
