// Package fake provides a scripted, in-process Generation Service for tests.
package fake

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// Step is one scripted answer of the status endpoint. A zero Code means 200.
// Delay holds the response back, to simulate a slow check.
type Step struct {
	Code   int
	Status models.TaskStatus
	Error  string
	Delay  time.Duration
}

// Reply is a scripted answer of the generate or refine endpoint. An empty
// TaskID lets the service allocate one.
type Reply struct {
	Code   int
	TaskID string
	Error  string
}

// Service emulates the four Generation Service endpoints. Task ids are
// allocated as t1, t2, ... in creation order. Each task walks through its
// script one Step per status call and then repeats the last Step.
type Service struct {
	mu       sync.Mutex
	nextID   int
	tasks    map[string]*task
	scripts  []script
	generate []Reply
	refine   []Reply
	calls    map[string]int
	perTask  map[string]int
	prompts  []string
	previews []string
	assets   map[string][]byte
}

type task struct {
	mode  models.JobKind
	steps []Step
	pos   int
}

type script struct {
	mode  models.JobKind
	steps []Step
}

// Endpoint names accepted by Calls.
const (
	EndpointGenerate = "generate"
	EndpointRefine   = "refine"
	EndpointStatus   = "status"
	EndpointProxy    = "proxy"
)

// New returns an empty Service.
func New() *Service {
	return &Service{
		tasks:   make(map[string]*task),
		calls:   make(map[string]int),
		perTask: make(map[string]int),
		assets:  make(map[string][]byte),
	}
}

// ScriptPreview queues the status script of the next preview task.
func (s *Service) ScriptPreview(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, script{mode: models.JobPreview, steps: steps})
}

// ScriptRefine queues the status script of the next refine task.
func (s *Service) ScriptRefine(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, script{mode: models.JobRefine, steps: steps})
}

// ReplyGenerate queues answers for upcoming generate calls.
func (s *Service) ReplyGenerate(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generate = append(s.generate, replies...)
}

// ReplyRefine queues answers for upcoming refine calls.
func (s *Service) ReplyRefine(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refine = append(s.refine, replies...)
}

// PutAsset registers a binary that the proxy endpoint will relay for url.
func (s *Service) PutAsset(url string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[url] = data
}

// Calls returns how many requests an endpoint has received.
func (s *Service) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// TaskCalls returns how many status checks a task has received.
func (s *Service) TaskCalls(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perTask[taskID]
}

// Prompts returns every prompt received by the generate endpoint.
func (s *Service) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// RefinedPreviews returns every preview_task_id received by the refine endpoint.
func (s *Service) RefinedPreviews() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.previews...)
}

// Handler returns the HTTP surface of the service.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/generate", s.handleGenerate)
	r.Post("/api/refine", s.handleRefine)
	r.Get("/api/status/{taskID}", s.handleStatus)
	r.Get("/api/proxy-glb", s.handleProxy)
	return r
}

func (s *Service) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	s.calls[EndpointGenerate]++
	s.prompts = append(s.prompts, req.Prompt)
	reply := popReply(&s.generate)
	if req.Prompt == "" && reply.Code == 0 {
		reply = Reply{Code: http.StatusBadRequest, Error: "Prompt is required"}
	}
	id := s.admit(reply, models.JobPreview)
	s.mu.Unlock()

	writeTaskReply(w, reply, id)
}

func (s *Service) handleRefine(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PreviewTaskID string `json:"preview_task_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	s.calls[EndpointRefine]++
	s.previews = append(s.previews, req.PreviewTaskID)
	reply := popReply(&s.refine)
	if req.PreviewTaskID == "" && reply.Code == 0 {
		reply = Reply{Code: http.StatusBadRequest, Error: "preview_task_id is required"}
	}
	id := s.admit(reply, models.JobRefine)
	s.mu.Unlock()

	writeTaskReply(w, reply, id)
}

// admit allocates a task for a successful reply. Callers hold s.mu.
func (s *Service) admit(reply Reply, mode models.JobKind) string {
	if reply.Code >= http.StatusBadRequest {
		return ""
	}
	id := reply.TaskID
	if id == "" {
		s.nextID++
		id = fmt.Sprintf("t%d", s.nextID)
	}
	t := &task{mode: mode}
	for i, sc := range s.scripts {
		if sc.mode == mode {
			t.steps = sc.steps
			s.scripts = append(s.scripts[:i], s.scripts[i+1:]...)
			break
		}
	}
	s.tasks[id] = t
	return id
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	s.mu.Lock()
	s.calls[EndpointStatus]++
	s.perTask[taskID]++
	t, ok := s.tasks[taskID]
	var step Step
	if ok {
		step = t.next()
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown task_id"})
		return
	}

	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-r.Context().Done():
			return
		}
	}

	code := step.Code
	if code == 0 {
		code = http.StatusOK
	}
	if code >= http.StatusBadRequest {
		body := map[string]string{}
		if step.Error != "" {
			body["error"] = step.Error
		}
		writeJSON(w, code, body)
		return
	}

	body := step.Status
	body.TaskID = taskID
	if body.Status == "" {
		body.Status = models.ServiceStatusPending
	}
	writeJSON(w, code, body)
}

func (s *Service) handleProxy(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")

	s.mu.Lock()
	s.calls[EndpointProxy]++
	data, ok := s.assets[target]
	s.mu.Unlock()

	if target == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url query param required"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "asset not available"})
		return
	}
	w.Header().Set("Content-Type", "model/gltf-binary")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// next returns the current step and advances, repeating the last one.
// A task without a script reports PENDING forever.
func (t *task) next() Step {
	if len(t.steps) == 0 {
		return Step{Status: models.TaskStatus{Status: models.ServiceStatusPending}}
	}
	step := t.steps[t.pos]
	if t.pos < len(t.steps)-1 {
		t.pos++
	}
	return step
}

func popReply(queue *[]Reply) Reply {
	if len(*queue) == 0 {
		return Reply{}
	}
	r := (*queue)[0]
	*queue = (*queue)[1:]
	return r
}

func writeTaskReply(w http.ResponseWriter, reply Reply, id string) {
	if reply.Code >= http.StatusBadRequest {
		body := map[string]string{}
		if reply.Error != "" {
			body["error"] = reply.Error
		}
		writeJSON(w, reply.Code, body)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": id, "status": string(models.ServiceStatusPending)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Running is a step that reports an in-progress task.
func Running(progress int) Step {
	return Step{Status: models.TaskStatus{Status: models.ServiceStatusInProgress, Progress: &progress}}
}

// PreviewReady is a step that reports a finished preview.
func PreviewReady(previewURL string, progress int) Step {
	return Step{Status: models.TaskStatus{
		Status:          models.ServiceStatusPreviewReady,
		PreviewModelURL: previewURL,
		Progress:        &progress,
	}}
}

// Completed is a step that reports a finished refine job.
func Completed(glbURL string) Step {
	progress := 100
	return Step{Status: models.TaskStatus{
		Status:    models.ServiceStatusCompleted,
		ModelURLs: &models.ModelURLs{GLB: glbURL},
		Progress:  &progress,
	}}
}

// Failed is a step that reports a task failure inside a 200 response.
func Failed(message string) Step {
	return Step{Status: models.TaskStatus{Status: models.ServiceStatusFailed, Error: message}}
}

// HTTPError is a step that answers with a non-2xx status.
func HTTPError(code int, message string) Step {
	return Step{Code: code, Error: message}
}
