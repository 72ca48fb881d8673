package models

// ServiceStatus is the task status reported by the Generation Service.
// Only the terminal and preview markers are significant; every other value
// (PENDING, IN_PROGRESS, ...) means the task is still running.
type ServiceStatus string

const (
	ServiceStatusPending      ServiceStatus = "PENDING"
	ServiceStatusInProgress   ServiceStatus = "IN_PROGRESS"
	ServiceStatusPreviewReady ServiceStatus = "PREVIEW_READY"
	ServiceStatusCompleted    ServiceStatus = "COMPLETED"
	ServiceStatusFailed       ServiceStatus = "FAILED"
)

// IsTerminal returns true if the task will not change status again.
func (s ServiceStatus) IsTerminal() bool {
	return s == ServiceStatusCompleted || s == ServiceStatusFailed
}

// ModelURLs holds the downloadable mesh formats of a finished task.
type ModelURLs struct {
	GLB  string `json:"glb,omitempty"`
	FBX  string `json:"fbx,omitempty"`
	OBJ  string `json:"obj,omitempty"`
	USDZ string `json:"usdz,omitempty"`
}

// TaskStatus is the body of GET /api/status/{task_id}.
type TaskStatus struct {
	TaskID          string        `json:"task_id,omitempty"`
	Status          ServiceStatus `json:"status"`
	PreviewModelURL string        `json:"preview_model_url,omitempty"`
	ModelURLs       *ModelURLs    `json:"model_urls,omitempty"`
	Progress        *int          `json:"progress,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// GLBURL returns the final glb URL, or "" when the service sent none.
func (t *TaskStatus) GLBURL() string {
	if t == nil || t.ModelURLs == nil {
		return ""
	}
	return t.ModelURLs.GLB
}

// ProgressOrZero returns the reported progress, defaulting to 0 when absent.
func (t *TaskStatus) ProgressOrZero() int {
	if t == nil || t.Progress == nil {
		return 0
	}
	return *t.Progress
}
