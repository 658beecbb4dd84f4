package photowall

import (
	"context"
	"image"
	"sync/atomic"
)

// State is the lifecycle position of a Task.
type State int32

const (
	Pending State = iota
	Running
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Task resolves one memory cache miss. Tasks are never shared between
// requests, even for the same key.
type Task struct {
	id       uint64
	slot     string
	key      string
	url      string
	onResult func(image.Image)

	state     atomic.Int32
	ctx       context.Context
	cancel    context.CancelFunc
	abandoned chan struct{}
}

func newTask(parent context.Context, id uint64, slot, key, url string, onResult func(image.Image)) *Task {
	ctx, cancel := context.WithCancel(parent)
	return &Task{
		id:        id,
		slot:      slot,
		key:       key,
		url:       url,
		onResult:  onResult,
		ctx:       ctx,
		cancel:    cancel,
		abandoned: make(chan struct{}),
	}
}

// ID is the correlation id carried from request to completion.
func (t *Task) ID() uint64 { return t.id }

// Key is the derived cache key.
func (t *Task) Key() string { return t.key }

// State returns the current lifecycle state.
func (t *Task) State() State { return State(t.state.Load()) }

// Abandoned is closed when the task is cancelled. A cancelled task never
// delivers, so waiters select on it alongside their result.
func (t *Task) Abandoned() <-chan struct{} { return t.abandoned }

func (t *Task) start() bool {
	return t.state.CompareAndSwap(int32(Pending), int32(Running))
}

func (t *Task) finish() bool {
	if !t.state.CompareAndSwap(int32(Running), int32(Completed)) {
		return false
	}
	t.cancel()
	return true
}

// abandon moves a pending or running task to Cancelled and asks its I/O to
// stop. In-flight reads may still finish; their result is dropped.
func (t *Task) abandon() bool {
	for {
		s := t.state.Load()
		if s == int32(Completed) || s == int32(Cancelled) {
			return false
		}
		if t.state.CompareAndSwap(s, int32(Cancelled)) {
			t.cancel()
			close(t.abandoned)
			return true
		}
	}
}
