package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// GraphKind names a knowledge graph built by the documents service. The
// values are path segments of the graph API.
type GraphKind string

const (
	GraphGuidelines     GraphKind = "guidelines"
	GraphSpec           GraphKind = "spec"
	GraphBusinessDomain GraphKind = "Business-Domain"
	GraphUserStories    GraphKind = "user-stories"
	GraphTestCases      GraphKind = "test-cases"
)

var graphKinds = map[GraphKind]string{
	GraphGuidelines:     "guideline_graph",
	GraphSpec:           "spec_graph",
	GraphBusinessDomain: "business_domain_graph",
	GraphUserStories:    "us_graph",
	GraphTestCases:      "test_case_graph",
}

// ParseGraphKind validates a graph kind taken from a URL.
func ParseGraphKind(s string) (GraphKind, error) {
	k := GraphKind(s)
	if _, ok := graphKinds[k]; !ok {
		return "", fmt.Errorf("unknown graph kind %q", s)
	}
	return k, nil
}

// VisualizerID is the graph id understood by the visualizer.
func (k GraphKind) VisualizerID() string {
	return graphKinds[k]
}

// Updatable reports whether the backend supports incremental updates.
func (k GraphKind) Updatable() bool {
	return k == GraphUserStories || k == GraphTestCases
}

// VisualizerURL builds the link that opens graph kind for projectKey.
func VisualizerURL(base string, kind GraphKind, projectKey string) string {
	return fmt.Sprintf("%s#/graph?projectId=%s&graphId=%s",
		base, url.QueryEscape(projectKey), kind.VisualizerID())
}

// CreateGraph builds graph kind. The user-stories graph takes the project
// and user in a form; every other kind takes the optional project key in
// the path.
func (c *Client) CreateGraph(ctx context.Context, kind GraphKind, projectKey, userID string) (*GraphResponse, error) {
	var resp GraphResponse
	if kind == GraphUserStories {
		form := newForm()
		form.field("jira_project_key", projectKey)
		form.field("user_id", userID)
		if err := c.postForm(ctx, c.documentsURL+"/api/graphs/user-stories/create", form, &resp); err != nil {
			return nil, fmt.Errorf("creating %s graph: %w", kind, err)
		}
		return &resp, nil
	}

	endpoint := fmt.Sprintf("%s/api/graphs/%s/create", c.documentsURL, kind)
	if projectKey != "" {
		endpoint += "/" + url.PathEscape(projectKey)
	}
	if err := c.do(ctx, request{method: http.MethodPost, url: endpoint}, &resp); err != nil {
		return nil, fmt.Errorf("creating %s graph: %w", kind, err)
	}
	return &resp, nil
}

// UpdateGraph feeds a new file and/or the project's Jira data into an
// existing user-stories or test-cases graph.
func (c *Client) UpdateGraph(ctx context.Context, kind GraphKind, projectKey, userID string, file *File) (*GraphUpdateResponse, error) {
	if !kind.Updatable() {
		return nil, fmt.Errorf("graph %s cannot be updated", kind)
	}
	form := newForm()
	form.file("file", file)
	form.optional("jira_project_key", projectKey)

	endpoint := fmt.Sprintf("%s/api/graphs/%s/update/%s/%s",
		c.documentsURL, kind, url.PathEscape(projectKey), url.PathEscape(userID))
	var resp GraphUpdateResponse
	if err := c.postForm(ctx, endpoint, form, &resp); err != nil {
		return nil, fmt.Errorf("updating %s graph: %w", kind, err)
	}
	return &resp, nil
}

func (c *Client) GraphStatus(ctx context.Context, kind GraphKind) (*GraphStatus, error) {
	var resp GraphStatus
	endpoint := fmt.Sprintf("%s/api/graphs/status/%s", c.documentsURL, kind)
	if err := c.do(ctx, request{method: http.MethodGet, url: endpoint}, &resp); err != nil {
		return nil, fmt.Errorf("getting %s graph status: %w", kind, err)
	}
	return &resp, nil
}

func (c *Client) DeleteGraph(ctx context.Context, kind GraphKind) (*MessageResponse, error) {
	var resp MessageResponse
	endpoint := fmt.Sprintf("%s/api/graphs/%s", c.documentsURL, kind)
	if err := c.do(ctx, request{method: http.MethodDelete, url: endpoint}, &resp); err != nil {
		return nil, fmt.Errorf("deleting %s graph: %w", kind, err)
	}
	return &resp, nil
}
