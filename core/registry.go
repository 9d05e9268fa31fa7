package core

import (
	"log/slog"
	"sync"
	"time"
)

const defaultHistoryCapacity = 100

// Registry is the authoritative map of task id to status record. It is a
// plain state container behind one coarse lock: the submission path creates
// Pending records and the broadcaster applies every later update, so there is
// exactly one writer per phase of a task's life.
type Registry struct {
	mu      sync.Mutex
	records map[string]*StatusRecord
	history terminalHistory
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		records: make(map[string]*StatusRecord),
		history: newTerminalHistory(defaultHistoryCapacity),
		logger:  logger,
	}
}

// Create inserts a Pending record for t. A task id may be reused only after
// the previous task with that id reached a terminal status; the stale
// terminal record is then overwritten.
func (r *Registry) Create(t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[t.ID]; ok && !existing.Status.Terminal() {
		return ErrDuplicateTask
	}

	now := time.Now()
	r.records[t.ID] = &StatusRecord{
		TaskID:      t.ID,
		Status:      StatusPending,
		SubmittedAt: t.SubmittedAt,
		UpdatedAt:   now,
	}
	return nil
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (StatusRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return StatusRecord{}, false
	}
	return *rec, true
}

// All returns a snapshot of every record.
func (r *Registry) All() map[string]StatusRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]StatusRecord, len(r.records))
	for id, rec := range r.records {
		out[id] = *rec
	}
	return out
}

// Apply folds a progress update into the matching record. Updates for
// unknown ids are logged and dropped (a lost or duplicate submission must not
// crash the broadcaster), and terminal records never transition again.
func (r *Registry) Apply(u ProgressUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[u.TaskID]
	if !ok {
		r.logger.Warn("progress update for unknown task", "taskID", u.TaskID, "status", u.Status)
		return
	}
	if rec.Status.Terminal() {
		r.logger.Debug("dropping update for terminal task", "taskID", u.TaskID, "status", u.Status)
		return
	}

	rec.Status = u.Status
	rec.Message = u.Message
	rec.UpdatedAt = u.EmittedAt
	if u.Progress > rec.Progress {
		rec.Progress = u.Progress
	}

	switch u.Status {
	case StatusCompleted:
		rec.Progress = 1.0
		rec.Result = u.Result
		rec.Error = ""
	case StatusFailed:
		rec.Error = u.Error
		rec.Result = nil
	}

	if rec.Status.Terminal() {
		r.history.Add(*rec)
	}
}

// CountByStatus returns the number of tasks per status.
func (r *Registry) CountByStatus() map[Status]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[Status]int, 4)
	for _, rec := range r.records {
		counts[rec.Status]++
	}
	return counts
}

// RecentTerminal returns up to limit recently finished records, newest first.
func (r *Registry) RecentTerminal(limit int) []StatusRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.Recent(limit)
}

// =============================================================================
// terminalHistory: fixed-capacity ring of finished tasks
// =============================================================================

type terminalHistory struct {
	items []StatusRecord
	head  int
	count int
}

func newTerminalHistory(capacity int) terminalHistory {
	if capacity < 1 {
		capacity = defaultHistoryCapacity
	}
	return terminalHistory{items: make([]StatusRecord, capacity)}
}

func (h *terminalHistory) Add(rec StatusRecord) {
	h.items[h.head] = rec
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

func (h *terminalHistory) Recent(limit int) []StatusRecord {
	if h.count == 0 {
		return nil
	}
	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]StatusRecord, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}
