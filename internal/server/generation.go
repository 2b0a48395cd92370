package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/phuslu/log"

	"github.com/esnunes/tcgen/internal/backend"
	"github.com/esnunes/tcgen/internal/identity"
	"github.com/esnunes/tcgen/internal/registry"
	"github.com/esnunes/tcgen/internal/validation"
	"github.com/esnunes/tcgen/internal/workflow"
)

const artifactFilename = "Generated_TC_file.xlsx"

// handleUserStoriesUpload selects the user stories to generate tests for,
// from a workbook or from Jira filters.
func (s *Server) handleUserStoriesUpload(w http.ResponseWriter, r *http.Request) {
	key := workflow.Key("user-stories", "upload")
	if err := parseForm(r); err != nil {
		s.invalid(w, key, err)
		return
	}
	file, err := formFile(r, "file")
	if err != nil {
		s.invalid(w, key, err)
		return
	}
	u := backend.UserStoriesUpload{
		File:                 file,
		ProjectKey:           registry.NormalizeProjectKey(r.FormValue("project_key")),
		SourceStateFieldName: strings.TrimSpace(r.FormValue("source_state_field_name")),
		TargetStateFieldName: strings.TrimSpace(r.FormValue("target_state_field_name")),
		Sprint:               strings.TrimSpace(r.FormValue("sprint")),
		Etiquette:            strings.TrimSpace(r.FormValue("etiquette")),
		Assignee:             strings.TrimSpace(r.FormValue("assignee")),
	}
	if err := validation.Check(validation.UserStoryUpload{
		HasFile:              file != nil,
		ProjectKey:           u.ProjectKey,
		SourceStateFieldName: u.SourceStateFieldName,
		TargetStateFieldName: u.TargetStateFieldName,
		Sprint:               u.Sprint,
		Assignee:             u.Assignee,
	}); err != nil {
		s.invalid(w, key, err)
		return
	}

	s.runAction(w, r, key, "An error occurred during upload.", func(ctx context.Context, userID string) (outcome, error) {
		u.UserID = userID
		res, err := s.backend.UploadUserStories(ctx, u)
		if err != nil {
			return outcome{}, err
		}
		return outcome{Message: orDefault(res.Message, "Upload successful!")}, nil
	})
}

func (s *Server) handleUserStoriesImport(w http.ResponseWriter, r *http.Request) {
	key := workflow.Key("user-stories", "import")
	if err := parseForm(r); err != nil {
		s.invalid(w, key, err)
		return
	}
	projectKey := registry.NormalizeProjectKey(r.FormValue("project_key"))
	if err := validation.Check(validation.ProjectOnly{ProjectKey: projectKey}); err != nil {
		s.invalid(w, key, err)
		return
	}

	s.runAction(w, r, key, "Import failed.", func(ctx context.Context, userID string) (outcome, error) {
		res, err := s.backend.ImportUserStories(ctx, projectKey, userID)
		if err != nil {
			return outcome{}, err
		}
		return outcome{Message: fmt.Sprintf("Imported %d user stories from %s.",
			res.TotalUserStories, orDefault(res.DataSource, projectKey))}, nil
	})
}

// handleEpicsUpload feeds epics, features and user stories to the
// documents service, from a workbook or the project's Jira.
func (s *Server) handleEpicsUpload(w http.ResponseWriter, r *http.Request) {
	key := workflow.Key("user-stories", "epics")
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
		res, err := s.backend.UploadEpicsFeatures(ctx, projectKey, userID, file)
		if err != nil {
			return outcome{}, err
		}
		out := outcome{Message: orDefault(res.Message, "Uploaded "+sourceLabel(file, projectKey)+".")}
		if res.JiraWarning != "" {
			out.Details = []string{res.JiraWarning}
		}
		return out, nil
	})
}

func (s *Server) handleSelectFormat(w http.ResponseWriter, r *http.Request) {
	key := workflow.Key("generation", "format")
	if err := parseForm(r); err != nil {
		s.invalid(w, key, err)
		return
	}
	format := r.FormValue("format")
	if err := validation.Check(validation.Format{Format: format}); err != nil {
		s.invalid(w, key, err)
		return
	}

	s.runAction(w, r, key, "Error while sending the format to the backend.", func(ctx context.Context, userID string) (outcome, error) {
		if _, err := s.backend.SelectFormat(ctx, format, userID); err != nil {
			return outcome{}, err
		}
		return outcome{Message: "Format sent successfully!"}, nil
	})
}

// handleLaunch starts generation. The acknowledgement and the eventual
// outcome are delivered as notifications, not in the response.
func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	key := workflow.Key("generation", "launch")
	if err := s.tracker.Begin(key); err != nil {
		w.WriteHeader(http.StatusConflict)
		return
	}
	userID, err := identity.GetOrCreate(s.queries)
	if err != nil {
		log.Error().Err(err).Msg("Loading user identity")
		s.tracker.Fail(key, "")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if _, err := s.poller.Launch(r.Context(), userID); err != nil {
		s.tracker.Fail(key, "")
	} else {
		s.tracker.Succeed(key, "")
	}
	s.renderNotification(w)
}

// handleDownload streams the generated workbook to the browser.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	userID, err := identity.GetOrCreate(s.queries)
	if err != nil {
		log.Error().Err(err).Msg("Loading user identity")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	artifact, err := s.backend.DownloadArtifact(r.Context(), userID)
	if err != nil {
		log.Warn().Err(err).Msg("Downloading generated test cases")
		http.Error(w, backend.UserMessage(err, "Download failed."), http.StatusBadGateway)
		return
	}
	defer artifact.Body.Close()

	contentType := artifact.ContentType
	if contentType == "" {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+artifactFilename+`"`)
	if artifact.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(artifact.ContentLength, 10))
	}
	if _, err := io.Copy(w, artifact.Body); err != nil {
		log.Warn().Err(err).Msg("Streaming generated test cases")
	}
}
