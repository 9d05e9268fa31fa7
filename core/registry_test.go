package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(discardLogger())
}

func createTask(t *testing.T, r *Registry, id string) {
	t.Helper()
	require.NoError(t, r.Create(&Task{ID: id, SubmittedAt: time.Now()}))
}

func TestRegistryCreateAndGet(t *testing.T) {
	r := newTestRegistry()
	createTask(t, r, "t1")

	rec, ok := r.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "t1", rec.TaskID)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, 0.0, rec.Progress)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryRejectsActiveDuplicate(t *testing.T) {
	r := newTestRegistry()
	createTask(t, r, "t1")

	err := r.Create(&Task{ID: "t1", SubmittedAt: time.Now()})
	require.ErrorIs(t, err, ErrDuplicateTask)

	// Once the first task finishes, the id becomes reusable.
	r.Apply(ProgressUpdate{TaskID: "t1", Status: StatusCompleted, Result: 1, EmittedAt: time.Now()})
	require.NoError(t, r.Create(&Task{ID: "t1", SubmittedAt: time.Now()}))

	rec, ok := r.Get("t1")
	require.True(t, ok)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Nil(t, rec.Result)
}

func TestRegistryApplyUnknownTaskIsDropped(t *testing.T) {
	r := newTestRegistry()

	r.Apply(ProgressUpdate{TaskID: "ghost", Status: StatusRunning, EmittedAt: time.Now()})

	_, ok := r.Get("ghost")
	assert.False(t, ok)
}

func TestRegistryTerminalRecordsNeverTransition(t *testing.T) {
	r := newTestRegistry()
	createTask(t, r, "t1")

	r.Apply(ProgressUpdate{TaskID: "t1", Status: StatusCompleted, Result: 42, EmittedAt: time.Now()})
	r.Apply(ProgressUpdate{TaskID: "t1", Status: StatusRunning, Progress: 0.5, EmittedAt: time.Now()})
	r.Apply(ProgressUpdate{TaskID: "t1", Status: StatusFailed, Error: "boom", EmittedAt: time.Now()})

	rec, ok := r.Get("t1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, 1.0, rec.Progress)
	assert.Equal(t, 42, rec.Result)
	assert.Empty(t, rec.Error)
}

func TestRegistryProgressNeverDecreases(t *testing.T) {
	r := newTestRegistry()
	createTask(t, r, "t1")

	r.Apply(ProgressUpdate{TaskID: "t1", Status: StatusRunning, Progress: 0.6, EmittedAt: time.Now()})
	r.Apply(ProgressUpdate{TaskID: "t1", Status: StatusRunning, Progress: 0.2, EmittedAt: time.Now()})

	rec, ok := r.Get("t1")
	require.True(t, ok)
	assert.Equal(t, 0.6, rec.Progress)
}

func TestRegistryCompletedForcesFullProgress(t *testing.T) {
	r := newTestRegistry()
	createTask(t, r, "t1")

	r.Apply(ProgressUpdate{TaskID: "t1", Status: StatusRunning, Progress: 0.3, EmittedAt: time.Now()})
	r.Apply(ProgressUpdate{TaskID: "t1", Status: StatusCompleted, Progress: 0.3, Result: "done", EmittedAt: time.Now()})

	rec, ok := r.Get("t1")
	require.True(t, ok)
	assert.Equal(t, 1.0, rec.Progress)
	assert.Equal(t, "done", rec.Result)
}

func TestRegistryFailedKeepsErrorDropsResult(t *testing.T) {
	r := newTestRegistry()
	createTask(t, r, "t1")

	r.Apply(ProgressUpdate{TaskID: "t1", Status: StatusRunning, Progress: 0.4, EmittedAt: time.Now()})
	r.Apply(ProgressUpdate{TaskID: "t1", Status: StatusFailed, Progress: 0.4, Error: "disk full", EmittedAt: time.Now()})

	rec, ok := r.Get("t1")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "disk full", rec.Error)
	assert.Nil(t, rec.Result)
	assert.Equal(t, 0.4, rec.Progress)
}

func TestRegistryCountByStatus(t *testing.T) {
	r := newTestRegistry()
	createTask(t, r, "t1")
	createTask(t, r, "t2")
	createTask(t, r, "t3")

	r.Apply(ProgressUpdate{TaskID: "t1", Status: StatusRunning, EmittedAt: time.Now()})
	r.Apply(ProgressUpdate{TaskID: "t2", Status: StatusCompleted, EmittedAt: time.Now()})

	counts := r.CountByStatus()
	assert.Equal(t, 1, counts[StatusPending])
	assert.Equal(t, 1, counts[StatusRunning])
	assert.Equal(t, 1, counts[StatusCompleted])
	assert.Equal(t, 0, counts[StatusFailed])
}

func TestRegistryRecentTerminalNewestFirst(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("t%d", i)
		createTask(t, r, id)
		r.Apply(ProgressUpdate{TaskID: id, Status: StatusCompleted, EmittedAt: time.Now()})
	}

	recent := r.RecentTerminal(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "t4", recent[0].TaskID)
	assert.Equal(t, "t3", recent[1].TaskID)
	assert.Equal(t, "t2", recent[2].TaskID)
}

func TestTerminalHistoryWrapsAround(t *testing.T) {
	h := newTerminalHistory(3)
	for i := 0; i < 5; i++ {
		h.Add(StatusRecord{TaskID: fmt.Sprintf("t%d", i), Status: StatusCompleted})
	}

	recent := h.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "t4", recent[0].TaskID)
	assert.Equal(t, "t3", recent[1].TaskID)
	assert.Equal(t, "t2", recent[2].TaskID)
}
