package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/esnunes/tcgen/internal/models"
)

// Test case formats accepted by the generation service. The values are
// wire vocabulary and must be sent verbatim.
const (
	FormatGherkinPlain    = "Gherkin sans paramètres"
	FormatGherkinParams   = "Gherkin avec paramètres"
	FormatNaturalLanguage = "Format en steps language naturel"
)

var Formats = []string{FormatGherkinPlain, FormatGherkinParams, FormatNaturalLanguage}

type UserStoriesUpload struct {
	File                 *File
	ProjectKey           string
	SourceStateFieldName string
	TargetStateFieldName string
	Sprint               string
	Etiquette            string
	Assignee             string
	UserID               string
}

func (c *Client) UploadUserStories(ctx context.Context, u UserStoriesUpload) (*MessageResponse, error) {
	form := newForm()
	form.file("file", u.File)
	form.optional("jira_project_key", u.ProjectKey)
	form.optional("source_state_field_name", u.SourceStateFieldName)
	form.optional("target_state_field_name", u.TargetStateFieldName)
	form.optional("sprint", u.Sprint)
	form.optional("etiquette", u.Etiquette)
	form.optional("assignee", u.Assignee)
	form.field("user_id", u.UserID)

	var resp MessageResponse
	if err := c.postForm(ctx, c.generationURL+"/files/user-stories-to-generate/upload", form, &resp); err != nil {
		return nil, fmt.Errorf("uploading user stories to generate: %w", err)
	}
	return &resp, nil
}

func (c *Client) ImportUserStories(ctx context.Context, projectKey, userID string) (*ImportResult, error) {
	endpoint := fmt.Sprintf("%s/files/user-stories-to-generate/import/%s/%s",
		c.generationURL, url.PathEscape(projectKey), url.PathEscape(userID))
	var resp ImportResult
	if err := c.do(ctx, request{method: http.MethodPost, url: endpoint, contentType: "application/json"}, &resp); err != nil {
		return nil, fmt.Errorf("importing user stories: %w", err)
	}
	return &resp, nil
}

func (c *Client) SelectFormat(ctx context.Context, format, userID string) (*MessageResponse, error) {
	body := struct {
		Format string `json:"format"`
		UserID string `json:"user_id"`
	}{format, userID}

	var resp MessageResponse
	if err := c.postJSON(ctx, c.generationURL+"/files/selected-format/upload", body, &resp); err != nil {
		return nil, fmt.Errorf("selecting test format: %w", err)
	}
	return &resp, nil
}

// LatestJob returns the most recent terminal job, or nil when the backend
// has nothing to report.
func (c *Client) LatestJob(ctx context.Context) (*models.JobStatus, error) {
	var job *models.JobStatus
	endpoint := c.generationURL + "/edge_functional_tests/edge_func_TC/latest_completed_job"
	if err := c.do(ctx, request{method: http.MethodGet, url: endpoint}, &job); err != nil {
		return nil, fmt.Errorf("fetching latest job: %w", err)
	}
	return job, nil
}

func (c *Client) LaunchGeneration(ctx context.Context, userID string) (*models.LaunchResult, error) {
	endpoint := fmt.Sprintf("%s/edge_functional_tests/edge_func_TC/generate/%s", c.generationURL, url.PathEscape(userID))
	var resp models.LaunchResult
	if err := c.do(ctx, request{method: http.MethodPost, url: endpoint}, &resp); err != nil {
		return nil, fmt.Errorf("launching generation: %w", err)
	}
	return &resp, nil
}

// Artifact is a streamed download. Callers must close Body.
type Artifact struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

func (c *Client) DownloadArtifact(ctx context.Context, userID string) (*Artifact, error) {
	endpoint := fmt.Sprintf("%s/files/edge-functional/download/%s", c.generationURL, url.PathEscape(userID))
	resp, err := c.send(ctx, request{method: http.MethodGet, url: endpoint})
	if err != nil {
		return nil, fmt.Errorf("downloading generated test cases: %w", err)
	}
	return &Artifact{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
	}, nil
}
