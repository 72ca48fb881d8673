// Package generation implements the client-side lifecycle of a text-to-3D
// generation: starting preview and refine jobs on the Generation Service,
// polling their status, and exposing the resulting state to a presentation
// layer.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/meshforge/internal/genservice"
	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// DefaultPollInterval is the spacing between two status checks of a job.
const DefaultPollInterval = 5 * time.Second

// Messages surfaced through Snapshot.ErrorMessage.
const (
	MsgEmptyPrompt    = "Please enter a prompt."
	MsgNoPreviewTask  = "Valid preview_task_id required for refine."
	msgGenerateFailed = "Failed to initiate generation."
	msgRefineFailed   = "Failed to refine model."
	msgStatusFailed   = "Status fetch failed."
	msgJobFailed      = "Generation failed."
	msgPollingError   = "Polling error: "
)

var (
	ErrEmptyPrompt   = errors.New("prompt is empty")
	ErrNoPreviewTask = errors.New("no preview task to refine")
	ErrClosed        = errors.New("controller closed")
	ErrSuperseded    = errors.New("superseded by a newer request")
)

// Recorder receives lifecycle events, typically for metrics.
type Recorder interface {
	JobStarted(kind models.JobKind)
	StatusChecked(outcome string)
	Transition(from, to models.Status)
}

type nopRecorder struct{}

func (nopRecorder) JobStarted(models.JobKind)               {}
func (nopRecorder) StatusChecked(string)                    {}
func (nopRecorder) Transition(models.Status, models.Status) {}

// GenerateDefaults are forwarded with every generate and refine request.
type GenerateDefaults struct {
	ArtStyle       string
	NegativePrompt string
}

// Option configures a Controller.
type Option func(*Controller)

// WithPollInterval sets the spacing between status checks. Non-positive
// values keep the default.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRecorder sets the sink for lifecycle events.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithGenerateDefaults sets the art style and negative prompt sent with each job.
func WithGenerateDefaults(d GenerateDefaults) Option {
	return func(c *Controller) { c.defaults = d }
}

// Controller owns the state of one generation lifecycle. It is safe for
// concurrent use; the presentation layer reads it through Snapshot or
// Subscribe and drives it through StartGeneration and StartRefine.
type Controller struct {
	client   genservice.Client
	interval time.Duration
	logger   *slog.Logger
	recorder Recorder
	defaults GenerateDefaults

	mu      sync.Mutex
	st      state
	epoch   uint64
	poll    *pollLoop
	subs    map[uint64]chan models.Snapshot
	nextSub uint64
	closed  bool

	// tracks the poll loop goroutine and every in-flight status check
	workers sync.WaitGroup
}

// New creates a Controller in the idle state.
func New(client genservice.Client, opts ...Option) *Controller {
	c := &Controller{
		client:   client,
		interval: DefaultPollInterval,
		logger:   slog.Default(),
		recorder: nopRecorder{},
		st:       state{status: models.StatusIdle},
		subs:     make(map[uint64]chan models.Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartGeneration submits prompt as a new preview job, replacing whatever
// job the controller was running. It returns once the service has accepted
// or rejected the job; polling continues in the background.
func (c *Controller) StartGeneration(ctx context.Context, prompt string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.epoch++
	epoch := c.epoch
	c.st.resetForSubmission(prompt)

	if strings.TrimSpace(prompt) == "" {
		c.st.errorMessage = MsgEmptyPrompt
		c.setStatusLocked(models.StatusIdle)
		c.commitLocked()
		c.mu.Unlock()
		return ErrEmptyPrompt
	}

	c.st.loading = true
	c.setStatusLocked(models.StatusInitiating)
	c.commitLocked()
	c.mu.Unlock()

	c.recorder.JobStarted(models.JobPreview)
	taskID, err := c.client.Generate(ctx, genservice.GenerateRequest{
		Prompt:         prompt,
		ArtStyle:       c.defaults.ArtStyle,
		NegativePrompt: c.defaults.NegativePrompt,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if stale := c.staleLocked(epoch); stale != nil {
		return stale
	}
	c.st.loading = false

	if err != nil {
		c.st.errorMessage = messageFor(err, msgGenerateFailed)
		c.setStatusLocked(models.StatusFailed)
		c.commitLocked()
		c.logger.Warn("generation request failed", "error", err)
		return fmt.Errorf("start generation: %w", err)
	}

	c.st.active = models.PreviewJob(taskID)
	c.st.previewTaskID = taskID
	c.setStatusLocked(models.StatusPolling)
	c.commitLocked()
	c.logger.Info("generation started", "task_id", taskID)
	return nil
}

// StartRefine starts a refine job for the preview produced by the last
// successful StartGeneration.
func (c *Controller) StartRefine(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	previewTaskID := c.st.previewTaskID
	if previewTaskID == "" {
		c.st.errorMessage = MsgNoPreviewTask
		c.commitLocked()
		c.mu.Unlock()
		return ErrNoPreviewTask
	}

	c.epoch++
	epoch := c.epoch
	c.st.errorMessage = ""
	c.st.loading = true
	c.setStatusLocked(models.StatusRefining)
	c.commitLocked()
	c.mu.Unlock()

	c.recorder.JobStarted(models.JobRefine)
	taskID, err := c.client.Refine(ctx, genservice.RefineRequest{
		PreviewTaskID:  previewTaskID,
		NegativePrompt: c.defaults.NegativePrompt,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if stale := c.staleLocked(epoch); stale != nil {
		return stale
	}
	c.st.loading = false

	if err != nil {
		c.st.errorMessage = messageFor(err, msgRefineFailed)
		c.setStatusLocked(models.StatusFailed)
		c.commitLocked()
		c.logger.Warn("refine request failed", "preview_task_id", previewTaskID, "error", err)
		return fmt.Errorf("start refine: %w", err)
	}

	c.st.active = models.RefineJob(taskID)
	c.setStatusLocked(models.StatusPolling)
	c.commitLocked()
	c.logger.Info("refine started", "task_id", taskID, "preview_task_id", previewTaskID)
	return nil
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() models.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.snapshot()
}

// Subscribe returns a channel that always holds the latest snapshot. The
// current state is delivered immediately. Intermediate states may be
// skipped by slow readers. The channel is closed by the returned cancel
// func or by Close.
func (c *Controller) Subscribe() (<-chan models.Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan models.Snapshot, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.st.snapshot()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// Close tears the controller down: it cancels polling, waits for in-flight
// status checks to return, and closes every subscription. Responses to
// generate or refine requests still in flight are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.epoch++
	c.stopPollingLocked()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()

	c.workers.Wait()
}

// staleLocked reports why a response for the request issued at epoch must
// be dropped, or nil if it is still current.
func (c *Controller) staleLocked(epoch uint64) error {
	if c.closed {
		return ErrClosed
	}
	if c.epoch != epoch {
		return ErrSuperseded
	}
	return nil
}

func (c *Controller) setStatusLocked(to models.Status) {
	from := c.st.status
	if from == to {
		return
	}
	c.st.status = to
	c.recorder.Transition(from, to)
}

// commitLocked publishes a state change: the poll loop is brought in line
// with the new status and job, then subscribers are notified.
func (c *Controller) commitLocked() {
	c.reconcilePollingLocked()
	snap := c.st.snapshot()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// messageFor prefers the message the service attached to err.
func messageFor(err error, fallback string) string {
	if msg := genservice.ServiceMessage(err); msg != "" {
		return msg
	}
	return fallback
}
