package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/esnunes/tcgen/internal/backend"
	"github.com/esnunes/tcgen/internal/registry"
	"github.com/esnunes/tcgen/internal/validation"
	"github.com/esnunes/tcgen/internal/workflow"
)

func graphKey(kind backend.GraphKind, action string) string {
	return workflow.Key("graph-"+strings.ToLower(string(kind)), action)
}

// graphKind resolves the {kind} URL parameter, answering 404 for unknown
// graphs.
func graphKind(w http.ResponseWriter, r *http.Request) (backend.GraphKind, bool) {
	kind, err := backend.ParseGraphKind(chi.URLParam(r, "kind"))
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return "", false
	}
	return kind, true
}

func (s *Server) handleGraphCreate(w http.ResponseWriter, r *http.Request) {
	kind, ok := graphKind(w, r)
	if !ok {
		return
	}
	key := graphKey(kind, "create")
	if err := parseForm(r); err != nil {
		s.invalid(w, key, err)
		return
	}
	projectKey := registry.NormalizeProjectKey(r.FormValue("project_key"))
	if err := validation.Check(validation.GraphCreate{Kind: string(kind), ProjectKey: projectKey}); err != nil {
		s.invalid(w, key, err)
		return
	}

	s.runAction(w, r, key, "Graph creation failed. Please check the server logs for details.", func(ctx context.Context, userID string) (outcome, error) {
		if _, err := s.backend.CreateGraph(ctx, kind, projectKey, userID); err != nil {
			return outcome{}, err
		}
		out := outcome{Message: "Graph created successfully!"}
		if projectKey != "" {
			out.Link = backend.VisualizerURL(s.opts.VisualizerURL, kind, projectKey)
		}
		return out, nil
	})
}

func (s *Server) handleGraphUpdate(w http.ResponseWriter, r *http.Request) {
	kind, ok := graphKind(w, r)
	if !ok {
		return
	}
	if !kind.Updatable() {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	key := graphKey(kind, "update")
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

	s.runAction(w, r, key, "Graph update failed. Please check the server logs for details.", func(ctx context.Context, userID string) (outcome, error) {
		if _, err := s.backend.UpdateGraph(ctx, kind, projectKey, userID, file); err != nil {
			return outcome{}, err
		}
		return outcome{Message: "Graph updated from " + sourceLabel(file, projectKey) + "."}, nil
	})
}

func (s *Server) handleGraphStatus(w http.ResponseWriter, r *http.Request) {
	kind, ok := graphKind(w, r)
	if !ok {
		return
	}
	s.runAction(w, r, graphKey(kind, "status"), "Could not read the graph status.", func(ctx context.Context, _ string) (outcome, error) {
		res, err := s.backend.GraphStatus(ctx, kind)
		if err != nil {
			return outcome{}, err
		}
		return outcome{Message: fmt.Sprintf("%s: %s", orDefault(res.GraphName, string(kind)), describeStatus(res.Status))}, nil
	})
}

// describeStatus flattens the backend's free-form status value.
func describeStatus(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err == nil {
		if v, ok := fields["status"]; ok {
			return fmt.Sprint(v)
		}
	}
	if len(raw) == 0 {
		return "unknown"
	}
	return string(raw)
}

func (s *Server) handleGraphDelete(w http.ResponseWriter, r *http.Request) {
	kind, ok := graphKind(w, r)
	if !ok {
		return
	}
	s.runAction(w, r, graphKey(kind, "delete"), "Graph deletion failed.", func(ctx context.Context, _ string) (outcome, error) {
		res, err := s.backend.DeleteGraph(ctx, kind)
		if err != nil {
			return outcome{}, err
		}
		return outcome{Message: orDefault(res.Message, "Graph deleted.")}, nil
	})
}

// handleGraphVisualize answers with a link to the visualizer for the
// selected project. Nothing is sent to the backend.
func (s *Server) handleGraphVisualize(w http.ResponseWriter, r *http.Request) {
	kind, ok := graphKind(w, r)
	if !ok {
		return
	}
	key := graphKey(kind, "visualize")
	projectKey := registry.NormalizeProjectKey(r.URL.Query().Get("project_key"))
	if err := validation.Check(validation.ProjectOnly{ProjectKey: projectKey}); err != nil {
		s.invalid(w, key, err)
		return
	}
	s.renderFragment(w, "status.html", statusData{
		State: s.tracker.Succeed(key, "Visualization ready!"),
		Link:  backend.VisualizerURL(s.opts.VisualizerURL, kind, projectKey),
	})
}
