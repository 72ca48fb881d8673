package generation

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/meshforge/internal/genservice"
	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// Status check outcomes reported to the Recorder.
const (
	CheckInProgress   = "in_progress"
	CheckPreviewReady = "preview_ready"
	CheckCompleted    = "completed"
	CheckFailed       = "failed"
	CheckError        = "error"
	CheckStale        = "stale"
)

// pollKey is the (status, job) pair a poll loop was started for. Any change
// of either one replaces the loop.
type pollKey struct {
	status models.Status
	job    models.ActiveJob
}

// pollLoop is the cancellation token of one polling run. Checks carry a
// pointer to the loop that issued them and an increasing sequence number;
// a response is applied only while its loop is current and nothing newer
// from the same loop has been applied.
type pollLoop struct {
	key     pollKey
	cancel  context.CancelFunc
	seq     atomic.Uint64
	applied uint64 // guarded by Controller.mu
}

// reconcilePollingLocked starts, stops or replaces the poll loop so that
// exactly one runs while the status is polling or refining with a job set.
func (c *Controller) reconcilePollingLocked() {
	key := pollKey{status: c.st.status, job: c.st.active}
	if c.poll != nil && c.poll.key == key {
		return
	}
	c.stopPollingLocked()
	if c.closed || !key.status.IsPolling() || key.job.IsZero() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &pollLoop{key: key, cancel: cancel}
	c.poll = p

	c.workers.Add(1)
	go c.runPoll(ctx, p, c.interval)
	c.logger.Debug("polling started", "task_id", key.job.TaskID, "job_kind", key.job.Kind, "status", key.status)
}

func (c *Controller) stopPollingLocked() {
	if c.poll == nil {
		return
	}
	c.poll.cancel()
	c.logger.Debug("polling stopped", "task_id", c.poll.key.job.TaskID)
	c.poll = nil
}

// runPoll issues one check immediately and one per interval until ctx is
// cancelled. Checks run in their own goroutines so a hung request never
// delays the next tick.
func (c *Controller) runPoll(ctx context.Context, p *pollLoop, interval time.Duration) {
	defer c.workers.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.launchCheck(ctx, p)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.launchCheck(ctx, p)
		}
	}
}

func (c *Controller) launchCheck(ctx context.Context, p *pollLoop) {
	if ctx.Err() != nil {
		return
	}
	seq := p.seq.Add(1)
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		c.check(ctx, p, seq)
	}()
}

func (c *Controller) check(ctx context.Context, p *pollLoop, seq uint64) {
	status, err := c.client.Status(ctx, p.key.job.TaskID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.poll != p || ctx.Err() != nil || seq <= p.applied {
		c.recorder.StatusChecked(CheckStale)
		return
	}
	p.applied = seq

	if err != nil {
		c.applyCheckErrorLocked(p.key.job, err)
		return
	}
	c.applyStatusLocked(p.key.job, status)
}

func (c *Controller) applyCheckErrorLocked(job models.ActiveJob, err error) {
	c.recorder.StatusChecked(CheckError)

	var apiErr *genservice.APIError
	if errors.As(err, &apiErr) {
		c.st.errorMessage = messageFor(err, msgStatusFailed)
	} else {
		c.st.errorMessage = msgPollingError + err.Error()
	}
	c.setStatusLocked(models.StatusFailed)
	c.commitLocked()
	c.logger.Warn("status check failed", "task_id", job.TaskID, "error", err)
}

func (c *Controller) applyStatusLocked(job models.ActiveJob, status *models.TaskStatus) {
	c.st.progress = clampProgress(status.ProgressOrZero())

	switch {
	case status.Status == models.ServiceStatusPreviewReady && status.PreviewModelURL != "" && c.st.previewAssetURL == "":
		c.recorder.StatusChecked(CheckPreviewReady)
		c.st.previewAssetURL = c.client.ProxyURL(status.PreviewModelURL)
		c.setStatusLocked(models.StatusPreviewReady)
		c.logger.Info("preview ready", "task_id", job.TaskID)

	case status.Status == models.ServiceStatusCompleted && status.GLBURL() != "":
		c.recorder.StatusChecked(CheckCompleted)
		if c.st.finalAssetURL == "" {
			c.st.finalAssetURL = c.client.ProxyURL(status.GLBURL())
		}
		c.setStatusLocked(models.StatusCompleted)
		c.logger.Info("generation completed", "task_id", job.TaskID)

	case status.Status == models.ServiceStatusFailed:
		c.recorder.StatusChecked(CheckFailed)
		c.st.errorMessage = status.Error
		if c.st.errorMessage == "" {
			c.st.errorMessage = msgJobFailed
		}
		c.setStatusLocked(models.StatusFailed)
		c.logger.Warn("generation failed", "task_id", job.TaskID, "error", c.st.errorMessage)

	default:
		c.recorder.StatusChecked(CheckInProgress)
	}

	c.commitLocked()
}
