package backend

import (
	"encoding/json"
	"fmt"
)

type MessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type JiraCredentials struct {
	ServerURL  string `json:"jira_server_url"`
	Username   string `json:"jira_username"`
	ProjectKey string `json:"jira_project_key"`
	UserID     string `json:"user_id"`
}

type JiraCredentialsResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	JiraURL    string `json:"jira_url"`
	Username   string `json:"username"`
	ProjectKey string `json:"project_key"`
}

type ConnectionTest struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Connected bool   `json:"connected"`
}

// FileEntry is one saved or rejected file in an upload summary. The
// backend sends either a bare file name or an object.
type FileEntry struct {
	Name   string
	Reason string
}

func (e *FileEntry) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		e.Name = name
		return nil
	}
	var obj struct {
		OriginalFilename string `json:"original_filename"`
		Filename         string `json:"filename"`
		SavedAs          string `json:"saved_as"`
		Reason           string `json:"reason"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decoding file entry: %w", err)
	}
	switch {
	case obj.OriginalFilename != "":
		e.Name = obj.OriginalFilename
	case obj.Filename != "":
		e.Name = obj.Filename
	default:
		e.Name = obj.SavedAs
	}
	e.Reason = obj.Reason
	return nil
}

type CategoryResult struct {
	SavedFiles []FileEntry `json:"saved_files"`
	Errors     []FileEntry `json:"errors"`
	Total      int         `json:"total"`
	Successful int         `json:"successful"`
}

type UploadSummary struct {
	TotalFiles          int `json:"total_files"`
	TotalSuccessful     int `json:"total_successful"`
	TotalFailed         int `json:"total_failed"`
	CategoriesProcessed int `json:"categories_processed"`
}

type DocumentUploadResponse struct {
	Status  string                    `json:"status"`
	Message string                    `json:"message"`
	Results map[string]CategoryResult `json:"results"`
	Summary UploadSummary             `json:"summary"`
}

type JiraUploadResponse struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	FileSaved      string `json:"file_saved"`
	JiraProjectKey string `json:"jira_project_key"`
	JiraWarning    string `json:"jira_warning"`
}

type GraphResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	GraphName string `json:"graph_name"`
}

type GraphUpdateResponse struct {
	Status       string          `json:"status"`
	Message      string          `json:"message"`
	UploadResult string          `json:"upload_result"`
	UpdateResult json.RawMessage `json:"update_result"`
}

type GraphStatus struct {
	GraphType string          `json:"graph_type"`
	GraphName string          `json:"graph_name"`
	Status    json.RawMessage `json:"status"`
}

type ImportResult struct {
	Message          string `json:"message"`
	TotalUserStories int    `json:"total_user_stories"`
	DataSource       string `json:"data_source"`
}
