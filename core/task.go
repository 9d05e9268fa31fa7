package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Errors returned by the submission path.
var (
	// ErrNotRunning is returned when a task is submitted before Start.
	ErrNotRunning = errors.New("worker pool is not running")

	// ErrDuplicateTask is returned when a task id is resubmitted while the
	// previous task with that id is still pending or running.
	ErrDuplicateTask = errors.New("task id is already active")

	// ErrUnknownFunction is returned when no handler is registered for the
	// requested function name.
	ErrUnknownFunction = errors.New("unknown task function")
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Call carries the positional and keyword arguments of a task invocation.
type Call struct {
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// Handler executes one task. It receives the call arguments and a Reporter
// for incremental progress. The returned value becomes the task result; a
// returned error (or a panic) marks the task Failed.
type Handler func(ctx context.Context, call Call, progress *Reporter) (any, error)

// Task is one unit of submitted work. It is owned by the pool from enqueue
// until a terminal progress event has been recorded.
type Task struct {
	ID          string
	Function    string
	Call        Call
	SubmittedAt time.Time

	handler Handler
}

// StatusRecord is the registry's view of one task.
type StatusRecord struct {
	TaskID      string    `json:"task_id"`
	Status      Status    `json:"status"`
	Progress    float64   `json:"progress"`
	Message     string    `json:"message,omitempty"`
	Result      any       `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProgressUpdate is emitted by a worker for a single task. It is transient:
// the broadcaster applies it to the registry and forwards it to sessions,
// nothing retains it afterwards.
type ProgressUpdate struct {
	WorkerID  int       `json:"worker_id"`
	TaskID    string    `json:"task_id"`
	Status    Status    `json:"status"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	EmittedAt time.Time `json:"emitted_at"`
}

// =============================================================================
// HandlerRegistry
// =============================================================================

// HandlerRegistry maps function names to statically linked handlers. Task
// submissions resolve their handler here before entering the queue; there is
// no dynamic code loading.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a function name. Rebinding a name is an error.
func (r *HandlerRegistry) Register(name string, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler for %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler %q is already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Resolve returns the handler bound to name.
func (r *HandlerRegistry) Resolve(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered function names.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// =============================================================================
// Reporter
// =============================================================================

// Reporter is the progress handle injected into task handlers. Each Report
// call emits one Running event. Progress is clamped to [0,1] and never
// decreases for the lifetime of the task.
type Reporter struct {
	workerID int
	taskID   string
	updates  chan<- ProgressUpdate

	mu   sync.Mutex
	last float64
}

// NewReporter builds the progress handle for one task execution. Workers
// create one per task; tests use it to drive handlers directly.
func NewReporter(workerID int, taskID string, updates chan<- ProgressUpdate) *Reporter {
	return &Reporter{workerID: workerID, taskID: taskID, updates: updates}
}

// Report emits a Running event with the given fraction and message. Handlers
// are expected, not required, to call it; a silent handler yields sparse
// progress (0.0 then 1.0).
func (r *Reporter) Report(fraction float64, message string) {
	r.mu.Lock()
	if fraction < r.last {
		fraction = r.last
	}
	if fraction > 1.0 {
		fraction = 1.0
	}
	r.last = fraction
	r.mu.Unlock()

	r.updates <- ProgressUpdate{
		WorkerID:  r.workerID,
		TaskID:    r.taskID,
		Status:    StatusRunning,
		Progress:  fraction,
		Message:   message,
		EmittedAt: time.Now(),
	}
}

// Last returns the highest fraction reported so far.
func (r *Reporter) Last() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
