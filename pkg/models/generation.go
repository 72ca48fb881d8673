// Package models contains shared data models used across the meshforge codebase.
package models

// Status is the local lifecycle state of a generation controller.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusInitiating   Status = "initiating"
	StatusPolling      Status = "polling"
	StatusPreviewReady Status = "preview_ready"
	StatusRefining     Status = "refining"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// IsPolling reports whether the status keeps a poll loop running.
func (s Status) IsPolling() bool {
	return s == StatusPolling || s == StatusRefining
}

// JobKind distinguishes the two stages of a generation.
type JobKind string

const (
	JobPreview JobKind = "preview"
	JobRefine  JobKind = "refine"
)

// ActiveJob identifies the remote task the controller is currently polling.
// The zero value means no job is active.
type ActiveJob struct {
	Kind   JobKind
	TaskID string
}

func PreviewJob(taskID string) ActiveJob { return ActiveJob{Kind: JobPreview, TaskID: taskID} }
func RefineJob(taskID string) ActiveJob  { return ActiveJob{Kind: JobRefine, TaskID: taskID} }

// IsZero reports whether no job is set.
func (j ActiveJob) IsZero() bool { return j.TaskID == "" }

// Snapshot is a point-in-time copy of a controller's state, shaped for the
// presentation layer. Empty strings mean the value is absent.
type Snapshot struct {
	Prompt          string  `json:"prompt"`
	Status          Status  `json:"status"`
	TaskID          string  `json:"task_id,omitempty"`
	JobKind         JobKind `json:"job_kind,omitempty"`
	PreviewTaskID   string  `json:"preview_task_id,omitempty"`
	PreviewAssetURL string  `json:"preview_asset_url,omitempty"`
	FinalAssetURL   string  `json:"final_asset_url,omitempty"`
	AssetToDisplay  string  `json:"asset_to_display,omitempty"`
	Progress        int     `json:"progress"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	Loading         bool    `json:"loading"`
	CanRefine       bool    `json:"can_refine"`
}
