package models

import "time"

// ConnectionRecord is one known Jira server. JSON field names match the
// snapshot persisted under the registry storage key.
type ConnectionRecord struct {
	ServerURL   string   `json:"serverUrl"`
	Username    string   `json:"username"`
	ProjectKeys []string `json:"projectKeys"`
}

// Clone returns a copy that shares no memory with r.
func (r ConnectionRecord) Clone() ConnectionRecord {
	keys := make([]string, len(r.ProjectKeys))
	copy(keys, r.ProjectKeys)
	r.ProjectKeys = keys
	return r
}

// Job statuses reported by the generation backend. Only completed and
// failed are terminal; anything else is treated as still running.
const (
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// JobStatus is the latest job snapshot returned by the generation backend.
type JobStatus struct {
	StartedAt  string  `json:"started_at"`
	Status     string  `json:"status"`
	FinishedAt *string `json:"finished_at,omitempty"`
}

type LaunchResult struct {
	JobID     string `json:"job_id"`
	StartedAt string `json:"started_at"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

type NotificationKind string

const (
	NotificationSuccess NotificationKind = "success"
	NotificationFailure NotificationKind = "failure"
	NotificationInfo    NotificationKind = "info"
)

type Notification struct {
	ID        uint64
	Kind      NotificationKind
	Message   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// StoredNotification is a notification as recorded in the history table.
type StoredNotification struct {
	ID        int64
	Kind      NotificationKind
	Message   string
	CreatedAt time.Time
}
