package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/esnunes/tcgen/internal/backend"
	"github.com/esnunes/tcgen/internal/registry"
	"github.com/esnunes/tcgen/internal/validation"
	"github.com/esnunes/tcgen/internal/workflow"
)

// Upload categories as reported by the combined upload endpoint.
var uploadCategories = []struct {
	key   string
	label string
}{
	{"spec_files", "Specification"},
	{"business_domain_files", "Business domain"},
	{"company_guidelines_files", "Guidelines"},
}

func (s *Server) handleCombinedUpload(w http.ResponseWriter, r *http.Request) {
	key := workflow.Key("documents", "upload")
	if err := parseForm(r); err != nil {
		s.invalid(w, key, err)
		return
	}
	u := backend.CombinedUpload{ProjectKey: registry.NormalizeProjectKey(r.FormValue("project_key"))}
	var err error
	if u.Spec, err = formFiles(r, "spec_files"); err != nil {
		s.invalid(w, key, err)
		return
	}
	if u.BusinessDomain, err = formFiles(r, "business_domain_files"); err != nil {
		s.invalid(w, key, err)
		return
	}
	if u.Guidelines, err = formFiles(r, "company_guidelines_files"); err != nil {
		s.invalid(w, key, err)
		return
	}
	if err := validation.Check(validation.CombinedUpload{ProjectKey: u.ProjectKey, Files: u.FileCount()}); err != nil {
		s.invalid(w, key, err)
		return
	}

	s.runAction(w, r, key, "An error occurred during upload.", func(ctx context.Context, userID string) (outcome, error) {
		u.UserID = userID
		res, err := s.backend.UploadCombinedDocuments(ctx, u)
		if err != nil {
			return outcome{}, err
		}
		return outcome{
			Message: fmt.Sprintf("Successfully uploaded %d of %d file(s).", res.Summary.TotalSuccessful, res.Summary.TotalFiles),
			Details: uploadDetails(res),
		}, nil
	})
}

// uploadDetails lists the per-category outcome, including rejected files.
func uploadDetails(res *backend.DocumentUploadResponse) []string {
	var details []string
	for _, c := range uploadCategories {
		result, ok := res.Results[c.key]
		if !ok || result.Total == 0 {
			continue
		}
		details = append(details, fmt.Sprintf("%s: %d/%d saved", c.label, result.Successful, result.Total))
		for _, e := range result.Errors {
			line := fmt.Sprintf("%s: %s rejected", c.label, e.Name)
			if e.Reason != "" {
				line += " (" + e.Reason + ")"
			}
			details = append(details, line)
		}
	}
	return details
}

// handleLegacyDocuments uploads business-domain and guideline files without
// a project.
func (s *Server) handleLegacyDocuments(w http.ResponseWriter, r *http.Request) {
	key := workflow.Key("documents", "business-domain")
	if err := parseForm(r); err != nil {
		s.invalid(w, key, err)
		return
	}
	domain, err := formFiles(r, "business_domain_files")
	if err != nil {
		s.invalid(w, key, err)
		return
	}
	guidelines, err := formFiles(r, "company_guidelines_files")
	if err != nil {
		s.invalid(w, key, err)
		return
	}
	if err := validation.Check(validation.FileUpload{Files: len(domain) + len(guidelines)}); err != nil {
		s.invalid(w, key, err)
		return
	}

	s.runAction(w, r, key, "An error occurred during upload.", func(ctx context.Context, _ string) (outcome, error) {
		res, err := s.backend.UploadDocuments(ctx, domain, guidelines)
		if err != nil {
			return outcome{}, err
		}
		return outcome{Message: orDefault(res.Message, "Upload successful!")}, nil
	})
}

func (s *Server) handleSpecFiles(w http.ResponseWriter, r *http.Request) {
	key := workflow.Key("documents", "spec")
	if err := parseForm(r); err != nil {
		s.invalid(w, key, err)
		return
	}
	files, err := formFiles(r, "files")
	if err != nil {
		s.invalid(w, key, err)
		return
	}
	if err := validation.Check(validation.FileUpload{Files: len(files)}); err != nil {
		s.invalid(w, key, err)
		return
	}

	s.runAction(w, r, key, "An error occurred during upload.", func(ctx context.Context, _ string) (outcome, error) {
		if _, err := s.backend.UploadSpecFiles(ctx, files); err != nil {
			return outcome{}, err
		}
		return outcome{Message: fmt.Sprintf("Successfully uploaded %d file(s).", len(files))}, nil
	})
}

// handleTestCaseHistory uploads a test case history workbook, the
// project's Jira test cases, or both.
func (s *Server) handleTestCaseHistory(w http.ResponseWriter, r *http.Request) {
	key := workflow.Key("test-cases", "upload")
	if err := parseForm(r); err != nil {
		s.invalid(w, key, err)
		return
	}
	file, err := formFile(r, "file")
	if err != nil {
		s.invalid(w, key, err)
		return
	}
	projectKey := registry.NormalizeProjectKey(r.FormValue("project_key"))
	if err := validation.Check(validation.FileOrProject{HasFile: file != nil, ProjectKey: projectKey}); err != nil {
		s.invalid(w, key, err)
		return
	}

	s.runAction(w, r, key, "An error occurred during upload.", func(ctx context.Context, userID string) (outcome, error) {
		res, err := s.backend.UploadTestCaseHistory(ctx, projectKey, userID, file)
		if err != nil {
			return outcome{}, err
		}
		return outcome{Message: orDefault(res.Message, "Upload successful!")}, nil
	})
}

// sourceLabel describes what an upload was built from.
func sourceLabel(file *backend.File, projectKey string) string {
	var parts []string
	if file != nil {
		parts = append(parts, file.Name)
	}
	if projectKey != "" {
		parts = append(parts, "Jira project "+projectKey)
	}
	return strings.Join(parts, " and ")
}
