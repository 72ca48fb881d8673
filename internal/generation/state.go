package generation

import "github.com/kiranshivaraju/meshforge/pkg/models"

// state is the controller's mutable record. It is only touched with the
// controller mutex held.
type state struct {
	prompt          string
	status          models.Status
	active          models.ActiveJob
	previewTaskID   string
	previewAssetURL string
	finalAssetURL   string
	progress        int
	errorMessage    string
	loading         bool
}

// resetForSubmission clears every result of the previous job.
func (s *state) resetForSubmission(prompt string) {
	s.prompt = prompt
	s.active = models.ActiveJob{}
	s.previewTaskID = ""
	s.previewAssetURL = ""
	s.finalAssetURL = ""
	s.progress = 0
	s.errorMessage = ""
	s.loading = false
}

// assetToDisplay prefers the final mesh over the preview.
func (s *state) assetToDisplay() string {
	if s.finalAssetURL != "" {
		return s.finalAssetURL
	}
	return s.previewAssetURL
}

func (s *state) snapshot() models.Snapshot {
	return models.Snapshot{
		Prompt:          s.prompt,
		Status:          s.status,
		TaskID:          s.active.TaskID,
		JobKind:         s.active.Kind,
		PreviewTaskID:   s.previewTaskID,
		PreviewAssetURL: s.previewAssetURL,
		FinalAssetURL:   s.finalAssetURL,
		AssetToDisplay:  s.assetToDisplay(),
		Progress:        s.progress,
		ErrorMessage:    s.errorMessage,
		Loading:         s.loading,
		CanRefine:       s.status == models.StatusPreviewReady && s.previewTaskID != "" && !s.loading,
	}
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
