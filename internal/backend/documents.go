package backend

import (
	"context"
	"fmt"
	"net/http"
)

func (c *Client) UploadJiraCredentials(ctx context.Context, creds JiraCredentials) (*JiraCredentialsResponse, error) {
	var resp JiraCredentialsResponse
	if err := c.postJSON(ctx, c.documentsURL+"/api/jira/upload-jira-credentials", creds, &resp); err != nil {
		return nil, fmt.Errorf("uploading jira credentials: %w", err)
	}
	return &resp, nil
}

// TestJiraConnection asks the backend to check the credentials it holds.
func (c *Client) TestJiraConnection(ctx context.Context) (*ConnectionTest, error) {
	var resp ConnectionTest
	if err := c.do(ctx, request{method: http.MethodGet, url: c.documentsURL + "/api/jira/connection/test"}, &resp); err != nil {
		return nil, fmt.Errorf("testing jira connection: %w", err)
	}
	return &resp, nil
}

// UploadDocuments sends business-domain and guideline documents through
// the legacy endpoint that is not scoped to a project.
func (c *Client) UploadDocuments(ctx context.Context, businessDomain, guidelines []File) (*MessageResponse, error) {
	form := newForm()
	form.files("business_domain_files", businessDomain)
	form.files("company_guidelines_files", guidelines)

	var resp MessageResponse
	if err := c.postForm(ctx, c.documentsURL+"/upload-documents/", form, &resp); err != nil {
		return nil, fmt.Errorf("uploading documents: %w", err)
	}
	return &resp, nil
}

func (c *Client) UploadSpecFiles(ctx context.Context, files []File) (*MessageResponse, error) {
	form := newForm()
	form.files("files", files)

	var resp MessageResponse
	if err := c.postForm(ctx, c.documentsURL+"/upload-spec-files/", form, &resp); err != nil {
		return nil, fmt.Errorf("uploading spec files: %w", err)
	}
	return &resp, nil
}

type CombinedUpload struct {
	ProjectKey     string
	UserID         string
	Spec           []File
	BusinessDomain []File
	Guidelines     []File
}

func (u CombinedUpload) FileCount() int {
	return len(u.Spec) + len(u.BusinessDomain) + len(u.Guidelines)
}

func (c *Client) UploadCombinedDocuments(ctx context.Context, u CombinedUpload) (*DocumentUploadResponse, error) {
	form := newForm()
	form.field("jira_project_key", u.ProjectKey)
	form.field("user_id", u.UserID)
	form.files("spec_files", u.Spec)
	form.files("business_domain_files", u.BusinessDomain)
	form.files("company_guidelines_files", u.Guidelines)

	var resp DocumentUploadResponse
	if err := c.postForm(ctx, c.documentsURL+"/api/files/documents/upload", form, &resp); err != nil {
		return nil, fmt.Errorf("uploading documents: %w", err)
	}
	return &resp, nil
}

// UploadEpicsFeatures sends an epics/features/user-stories workbook, or
// just the project key to pull them from Jira.
func (c *Client) UploadEpicsFeatures(ctx context.Context, projectKey, userID string, file *File) (*JiraUploadResponse, error) {
	form := newForm()
	form.file("file", file)
	form.optional("jira_project_key", projectKey)
	form.field("user_id", userID)

	var resp JiraUploadResponse
	if err := c.postForm(ctx, c.documentsURL+"/api/files/epics-features-us/upload", form, &resp); err != nil {
		return nil, fmt.Errorf("uploading user stories: %w", err)
	}
	return &resp, nil
}

func (c *Client) UploadTestCaseHistory(ctx context.Context, projectKey, userID string, file *File) (*MessageResponse, error) {
	form := newForm()
	form.file("file", file)
	form.optional("jira_project_key", projectKey)
	form.field("user_id", userID)

	var resp MessageResponse
	if err := c.postForm(ctx, c.documentsURL+"/api/files/test-cases/upload", form, &resp); err != nil {
		return nil, fmt.Errorf("uploading test case history: %w", err)
	}
	return &resp, nil
}
