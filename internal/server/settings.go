package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/phuslu/log"

	"github.com/esnunes/tcgen/internal/backend"
	"github.com/esnunes/tcgen/internal/identity"
	"github.com/esnunes/tcgen/internal/registry"
	"github.com/esnunes/tcgen/internal/validation"
	"github.com/esnunes/tcgen/internal/workflow"
)

// handleConnect sends the credentials to the backend and records the
// connection once the backend accepted them.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	key := workflow.Key("settings", "connect")
	if err := parseForm(r); err != nil {
		s.invalid(w, key, err)
		return
	}
	form := validation.Connect{
		ServerURL:  strings.TrimSpace(r.FormValue("server_url")),
		Username:   strings.TrimSpace(r.FormValue("username")),
		ProjectKey: registry.NormalizeProjectKey(r.FormValue("project_key")),
	}
	if err := validation.Check(form); err != nil {
		s.invalid(w, key, err)
		return
	}

	s.runAction(w, r, key, "Failed. Check URL, username, or key.", func(ctx context.Context, userID string) (outcome, error) {
		_, err := s.backend.UploadJiraCredentials(ctx, backend.JiraCredentials{
			ServerURL:  form.ServerURL,
			Username:   form.Username,
			ProjectKey: form.ProjectKey,
			UserID:     userID,
		})
		if err != nil {
			return outcome{}, err
		}
		if err := s.registry.AddOrUpdateConfig(form.ServerURL, form.Username, form.ProjectKey); err != nil {
			log.Error().Err(err).Str("server_url", form.ServerURL).Msg("Saving connection")
			return outcome{Message: "Connected, but the connection could not be saved locally."}, nil
		}
		w.Header().Set("HX-Trigger", "projects-changed")
		return outcome{Message: "Connected and saved!"}, nil
	})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, workflow.Key("settings", "test"), "Jira connection test failed.", func(ctx context.Context, _ string) (outcome, error) {
		res, err := s.backend.TestJiraConnection(ctx)
		if err != nil {
			return outcome{}, err
		}
		if !res.Connected {
			return outcome{}, userError(orDefault(res.Message, "Jira connection test failed."))
		}
		return outcome{Message: orDefault(res.Message, "Jira connection is working.")}, nil
	})
}

func (s *Server) handleRemoveConnection(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	serverURL := r.FormValue("server_url")
	if err := s.registry.RemoveConfig(serverURL); err != nil {
		log.Error().Err(err).Str("server_url", serverURL).Msg("Saving connection registry")
	}
	w.Header().Set("HX-Trigger", "projects-changed")
	s.renderFragment(w, "connections.html", s.registry.Configs())
}

// handleClearIdentity forgets the user token; a new one is issued on the
// next request that needs it.
func (s *Server) handleClearIdentity(w http.ResponseWriter, r *http.Request) {
	if err := identity.Clear(s.queries); err != nil {
		log.Error().Err(err).Msg("Clearing user identity")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleProjectOptions renders the project dropdown shared by every form.
func (s *Server) handleProjectOptions(w http.ResponseWriter, r *http.Request) {
	s.renderFragment(w, "project_options.html", projectsData{
		ProjectKeys: s.registry.AllProjectKeys(),
		Selected:    registry.NormalizeProjectKey(r.URL.Query().Get("selected")),
	})
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	s.renderFragment(w, "connections.html", s.registry.Configs())
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
