package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Sentinel-Gate/seatswap/internal/domain/course"
)

// RegisterCustomValidators registers seatswap-specific validation rules.
// Must be called before validating Config. The desired-state file loader
// uses the same rules.
func RegisterCustomValidators(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"academic_term": validateAcademicTerm,
		"course_abbr":   validateCourseAbbr,
		"duration":      validateDuration,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateAcademicTerm accepts human term strings such as "Spring 2023".
func validateAcademicTerm(fl validator.FieldLevel) bool {
	_, err := course.ParseTerm(fl.Field().String())
	return err == nil
}

// validateCourseAbbr accepts COL DDNNN S# abbreviations in any case and spacing.
func validateCourseAbbr(fl validator.FieldLevel) bool {
	_, err := course.ParseAbbr(fl.Field().String())
	return err == nil
}

// validateDuration accepts positive Go duration strings ("5s", "1h").
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return FormatValidationErrors(err)
	}

	if err := c.validatePaths(); err != nil {
		return err
	}

	return nil
}

// validatePaths ensures the state file and the journal do not collide
// with the desired-state file.
func (c *Config) validatePaths() error {
	spec := filepath.Clean(c.Reconcile.SpecPath)
	if filepath.Clean(c.Session.StatePath) == spec {
		return errors.New("session.state_path must differ from reconcile.spec_path")
	}
	if c.JournalEnabled() && filepath.Clean(c.Journal.Path) == spec {
		return errors.New("journal.path must differ from reconcile.spec_path")
	}
	return nil
}

// FormatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func FormatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration (e.g. \"5s\")", field)
	case "academic_term":
		return fmt.Sprintf("%s must be a term such as \"Spring 2023\" or \"Summer 1 2023\"", field)
	case "course_abbr":
		return fmt.Sprintf("%s must be a course abbreviation such as \"CAS CS111 A1\"", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
