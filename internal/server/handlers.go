package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/phuslu/log"

	"github.com/esnunes/tcgen/internal/backend"
	"github.com/esnunes/tcgen/internal/identity"
	"github.com/esnunes/tcgen/internal/validation"
	"github.com/esnunes/tcgen/internal/workflow"
)

const maxUploadMemory = 32 << 20

type projectsData struct {
	ProjectKeys []string
	Selected    string
}

type homeData struct {
	UserID   string
	Projects projectsData
	Graphs   []graphData
}

type graphData struct {
	Kind      backend.GraphKind
	Title     string
	Updatable bool
	NeedsKey  bool
}

var homeGraphs = []graphData{
	{Kind: backend.GraphSpec, Title: "Specification graph"},
	{Kind: backend.GraphBusinessDomain, Title: "Business expert graph"},
	{Kind: backend.GraphGuidelines, Title: "Guidelines graph"},
	{Kind: backend.GraphUserStories, Title: "User stories graph", Updatable: true, NeedsKey: true},
	{Kind: backend.GraphTestCases, Title: "Test case history graph", Updatable: true},
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	userID, err := identity.GetOrCreate(s.queries)
	if err != nil {
		log.Error().Err(err).Msg("Loading user identity")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.renderPage(w, "home.html", homeData{
		UserID:   userID,
		Projects: projectsData{ProjectKeys: s.registry.AllProjectKeys()},
		Graphs:   homeGraphs,
	})
}

type dashboardData struct {
	UserID   string
	Projects projectsData
	Formats  []string
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID, err := identity.GetOrCreate(s.queries)
	if err != nil {
		log.Error().Err(err).Msg("Loading user identity")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.renderPage(w, "tcgen.html", dashboardData{
		UserID:   userID,
		Projects: projectsData{ProjectKeys: s.registry.AllProjectKeys()},
		Formats:  backend.Formats,
	})
}

// outcome is what a successful form action reports back.
type outcome struct {
	Message string
	Details []string
	Link    string
}

// statusData is rendered as a form's status area.
type statusData struct {
	workflow.State
	Details []string
	Link    string
}

// runAction moves key through the workflow around fn and renders the
// result as the form's status fragment. Backend error details are shown
// verbatim, fallback otherwise.
func (s *Server) runAction(w http.ResponseWriter, r *http.Request, key, fallback string, fn func(ctx context.Context, userID string) (outcome, error)) {
	if err := s.tracker.Begin(key); err != nil {
		s.renderBusy(w, key)
		return
	}

	userID, err := identity.GetOrCreate(s.queries)
	if err != nil {
		log.Error().Err(err).Str("action", key).Msg("Loading user identity")
		s.renderFragment(w, "status.html", statusData{State: s.tracker.Fail(key, fallback)})
		return
	}

	out, err := fn(r.Context(), userID)
	if err != nil {
		log.Warn().Err(err).Str("action", key).Msg("Form action failed")
		msg := backend.UserMessage(err, fallback)
		var uerr userError
		if errors.As(err, &uerr) {
			msg = string(uerr)
		}
		s.renderFragment(w, "status.html", statusData{State: s.tracker.Fail(key, msg)})
		return
	}
	s.renderFragment(w, "status.html", statusData{
		State:   s.tracker.Succeed(key, out.Message),
		Details: out.Details,
		Link:    out.Link,
	})
}

// userError is a failure whose text is shown to the user as is.
type userError string

func (e userError) Error() string { return string(e) }

// invalid renders a validation failure without contacting the backend.
func (s *Server) invalid(w http.ResponseWriter, key string, err error) {
	msg := "The form could not be read."
	var verr *validation.Error
	if errors.As(err, &verr) {
		msg = verr.Message
	} else {
		log.Warn().Err(err).Str("action", key).Msg("Reading form")
	}
	// A rejected submit never settles an action that is still running.
	if s.tracker.Get(key).Busy() {
		s.renderBusy(w, key)
		return
	}
	s.renderFragment(w, "status.html", statusData{State: workflow.State{
		Key:       key,
		Phase:     workflow.Failed,
		Message:   msg,
		UpdatedAt: time.Now(),
	}})
}

func (s *Server) renderBusy(w http.ResponseWriter, key string) {
	s.renderFragment(w, "status.html", statusData{State: workflow.State{
		Key:     key,
		Phase:   workflow.Running,
		Message: "Already in progress, please wait.",
	}})
}

func parseForm(r *http.Request) error {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return fmt.Errorf("parsing form: %w", err)
	}
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("parsing form: %w", err)
	}
	return nil
}

// formFiles reads every file uploaded under field.
func formFiles(r *http.Request, field string) ([]backend.File, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	var files []backend.File
	for _, fh := range r.MultipartForm.File[field] {
		if fh.Filename == "" {
			continue
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", fh.Filename, err)
		}
		files = append(files, backend.File{Name: fh.Filename, Data: data})
	}
	return files, nil
}

// formFile reads the first file uploaded under field, nil when none was.
func formFile(r *http.Request, field string) (*backend.File, error) {
	files, err := formFiles(r, field)
	if err != nil || len(files) == 0 {
		return nil, err
	}
	return &files[0], nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
