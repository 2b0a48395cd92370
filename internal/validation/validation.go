// Package validation checks submitted forms before any backend call.
//
// Each form is a struct carrying validator tags. Check returns the first
// violation as a message that can be shown next to the form.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/esnunes/tcgen/internal/backend"
)

var projectKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Connect is the Jira settings form.
type Connect struct {
	ServerURL  string `validate:"required,http_url"`
	Username   string `validate:"required"`
	ProjectKey string `validate:"required,jirakey"`
}

type CombinedUpload struct {
	ProjectKey string `validate:"required,jirakey"`
	Files      int    `validate:"min=1"`
}

// FileUpload covers the legacy forms that only take files.
type FileUpload struct {
	Files int `validate:"min=1"`
}

// FileOrProject covers the test-case history upload and the graph updates,
// which accept a file, a project key, or both.
type FileOrProject struct {
	HasFile    bool
	ProjectKey string `validate:"required_without=HasFile,omitempty,jirakey"`
}

type GraphCreate struct {
	Kind       string `validate:"required,graphkind"`
	ProjectKey string `validate:"required_if=Kind user-stories,omitempty,jirakey"`
}

// UserStoryUpload takes either a workbook or enough Jira filters to select
// the stories to generate from.
type UserStoryUpload struct {
	HasFile              bool
	ProjectKey           string `validate:"required_without=HasFile,omitempty,jirakey"`
	SourceStateFieldName string `validate:"required_without=HasFile"`
	TargetStateFieldName string `validate:"required_without=HasFile"`
	Sprint               string `validate:"required_without=HasFile"`
	Assignee             string `validate:"required_without=HasFile"`
}

// ProjectOnly covers the user story import and the visualizer link.
type ProjectOnly struct {
	ProjectKey string `validate:"required,jirakey"`
}

type Format struct {
	Format string `validate:"required,testformat"`
}

// Error is a validation failure ready for display.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		mustRegister("jirakey", func(fl validator.FieldLevel) bool {
			return projectKeyPattern.MatchString(fl.Field().String())
		})
		mustRegister("testformat", func(fl validator.FieldLevel) bool {
			return slices.Contains(backend.Formats, fl.Field().String())
		})
		mustRegister("graphkind", func(fl validator.FieldLevel) bool {
			_, err := backend.ParseGraphKind(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

func mustRegister(tag string, fn validator.Func) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("registering %s validator: %v", tag, err))
	}
}

// Check validates form and returns nil or an *Error for the first
// offending field.
func Check(form any) error {
	err := instance().Struct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validating form: %w", err)
	}
	fe := verrs[0]
	return &Error{Field: fe.Field(), Message: message(form, fe)}
}

func message(form any, fe validator.FieldError) string {
	switch form.(type) {
	case FileOrProject, *FileOrProject:
		if fe.Tag() == "required_without" {
			return "Please provide a file or select a Jira project."
		}
	case UserStoryUpload, *UserStoryUpload:
		if fe.Tag() == "required_without" {
			return "Please upload a file or fill in the project, both state fields, the sprint and the assignee."
		}
	case CombinedUpload, *CombinedUpload, FileUpload, *FileUpload:
		if fe.Field() == "Files" {
			return "Please select at least one file to upload."
		}
	}

	switch fe.Tag() {
	case "required", "required_if", "required_without":
		return fmt.Sprintf("%s is required.", label(fe.Field()))
	case "http_url":
		return "Jira server URL must be an http or https URL."
	case "jirakey":
		return fmt.Sprintf("%q is not a valid Jira project key.", fe.Value())
	case "testformat":
		return "Please select a test case format."
	case "graphkind":
		return fmt.Sprintf("Unknown graph %q.", fe.Value())
	}
	return fmt.Sprintf("%s is invalid.", label(fe.Field()))
}

var labels = map[string]string{
	"ServerURL":            "Jira server URL",
	"Username":             "Username",
	"ProjectKey":           "Jira project",
	"SourceStateFieldName": "Source state field",
	"TargetStateFieldName": "Target state field",
	"Sprint":               "Sprint",
	"Assignee":             "Assignee",
	"Format":               "Test case format",
	"Kind":                 "Graph",
}

func label(field string) string {
	if l, ok := labels[field]; ok {
		return l
	}
	return field
}
