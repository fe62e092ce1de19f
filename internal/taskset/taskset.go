package taskset

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"stampede.dev/stampede/internal/errs"
)

// Scheduler selects the dispatch order of a TaskSet's tasks.
type Scheduler int

const (
	// Random selects the next task by weighted random draw (default).
	Random Scheduler = iota
	// RoundRobin cycles deterministically through the weighted expansion.
	RoundRobin
	// Serial cycles through the tasks in registration order, one run of
	// each per pass, ignoring weight.
	Serial
)

// TaskSet is a named, weighted collection of Tasks assigned as a group to a
// User. It is built via the builder methods below and frozen by Freeze
// (called by NewCollection, and by the Attack Controller at Init for any set
// not yet frozen). After Freeze, RegisterTask panics; SetWeight,
// SetScheduler and SetWaitTime do not check the frozen flag.
type TaskSet struct {
	Name      string
	Weight    int
	Scheduler Scheduler
	MinWait   time.Duration
	MaxWait   time.Duration

	tasks   []*Task
	onStart *Task
	onStop  *Task
	frozen  bool
}

// New builds a TaskSet with weight 1 and Random scheduling.
func New(name string) *TaskSet {
	return &TaskSet{Name: name, Weight: 1, Scheduler: Random}
}

// SetWeight sets the task set's selection weight; must be >= 1.
func (ts *TaskSet) SetWeight(w int) *TaskSet {
	ts.Weight = w
	return ts
}

// SetScheduler chooses how tasks within this set are dispatched.
func (ts *TaskSet) SetScheduler(s Scheduler) *TaskSet {
	ts.Scheduler = s
	return ts
}

// SetWaitTime applies a uniform (min, max) sleep between tasks, independent
// of the coordinated-omission cadence tracker.
func (ts *TaskSet) SetWaitTime(minWait, maxWait time.Duration) *TaskSet {
	ts.MinWait, ts.MaxWait = minWait, maxWait
	return ts
}

// RegisterTask adds a Task to the set. If the task is marked OnStart or
// OnStop it replaces any previously registered hook of that kind instead of
// joining the weighted pool.
func (ts *TaskSet) RegisterTask(t *Task) *TaskSet {
	if ts.frozen {
		panic("taskset: RegisterTask after Freeze")
	}
	t.sequence = len(ts.tasks)
	switch {
	case t.OnStart:
		ts.onStart = t
	case t.OnStop:
		ts.onStop = t
	default:
		ts.tasks = append(ts.tasks, t)
	}
	return ts
}

// Tasks returns the weighted task pool (excluding on-start/on-stop hooks).
func (ts *TaskSet) Tasks() []*Task { return ts.tasks }

// OnStart returns the registered on-start hook, or nil.
func (ts *TaskSet) OnStart() *Task { return ts.onStart }

// OnStop returns the registered on-stop hook, or nil.
func (ts *TaskSet) OnStop() *Task { return ts.onStop }

// Freeze validates the TaskSet (at least one task, all weights >= 1) and
// marks it immutable. Called by the Attack Controller during Init, before
// any User is hatched.
func (ts *TaskSet) Freeze() error {
	if len(ts.tasks) == 0 {
		return fmt.Errorf("taskset %q: %w", ts.Name, errs.ErrNoTasks)
	}
	if ts.Weight < 1 {
		return fmt.Errorf("taskset %q: weight %d < 1: %w", ts.Name, ts.Weight, errs.ErrInvalidOption)
	}
	for _, t := range ts.tasks {
		if t.Weight < 1 {
			return fmt.Errorf("taskset %q task %q: weight %d < 1: %w", ts.Name, t.Name, t.Weight, errs.ErrInvalidOption)
		}
	}
	ts.frozen = true
	return nil
}

// Frozen reports whether Freeze has been called.
func (ts *TaskSet) Frozen() bool { return ts.frozen }

// Collection is a frozen, ordered set of TaskSets, as registered by the
// load-test author and validated once by the Attack Controller.
type Collection struct {
	Sets []*TaskSet
}

// NewCollection builds and freezes a Collection from the given TaskSets,
// failing on the first invalid set.
func NewCollection(sets ...*TaskSet) (*Collection, error) {
	if len(sets) == 0 {
		return nil, errs.ErrNoTasks
	}
	for _, ts := range sets {
		if !ts.Frozen() {
			if err := ts.Freeze(); err != nil {
				return nil, err
			}
		}
	}
	return &Collection{Sets: sets}, nil
}

// Weights returns the TaskSet-level weights, for the top-level user
// assignment selector.
func (c *Collection) Weights() []int {
	w := make([]int, len(c.Sets))
	for i, ts := range c.Sets {
		w[i] = ts.Weight
	}
	return w
}

// Fingerprint is a stable hash of the Collection's shape (names, weights,
// task counts) — never task function bodies, which cannot be hashed across
// a process boundary. Gaggle workers send this in their handshake so the
// manager can detect a mismatched deployment.
func (c *Collection) Fingerprint() string {
	h := sha256.New()
	for _, ts := range c.Sets {
		fmt.Fprintf(h, "%s|%d|%d|", ts.Name, ts.Weight, len(ts.tasks))
		for _, t := range ts.tasks {
			fmt.Fprintf(h, "%s:%d;", t.Name, t.Weight)
		}
	}
	sum := h.Sum(nil)
	return fmt.Sprintf("%x", binary.BigEndian.Uint64(sum[:8]))
}
