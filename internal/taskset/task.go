// Package taskset defines the Task/TaskSet data model and the builder that
// freezes a collection of task sets before an attack starts.
package taskset

import "context"

// UserHandle is the narrow surface a Task function is given. It is
// implemented by internal/userrun.User; defined here (not there) so that
// taskset has no dependency on the runtime package that executes tasks.
type UserHandle interface {
	// Get issues a GET request against path, labelling it name for metrics.
	Get(ctx context.Context, name, path string) (*Response, error)
	// Post issues a POST request with the given body.
	Post(ctx context.Context, name, path string, body []byte) (*Response, error)
	// Do issues an arbitrary method/body request.
	Do(ctx context.Context, name, method, path string, body []byte) (*Response, error)
	// SetFailure marks the most recent request (already recorded as a
	// success) as failed, and emits a Debug Record carrying label.
	SetFailure(label string, resp *Response)
	// LogDebug emits a standalone Debug Record with the given tag.
	LogDebug(tag string)
}

// Response is the trimmed view of an HTTP exchange a Task function can act
// on; the full Request Metric is recorded by the runtime, not by the task.
type Response struct {
	StatusCode int
	FinalURL   string
	Redirected bool
	Body       []byte
}

// TaskFunc is a single scripted HTTP interaction. Returning a non-nil error
// is a signal, not a fault: it is logged and counted, and the user proceeds
// to its next task.
type TaskFunc func(ctx context.Context, u UserHandle) error

// Task is a single scripted HTTP interaction with a selection weight.
type Task struct {
	Name     string
	Weight   int
	Fn       TaskFunc
	OnStart  bool
	OnStop   bool
	sequence int // stable registration order; no scheduler reads it
}

// NewTask builds a Task with weight 1. Use SetWeight/SetOnStart/SetOnStop to
// adjust it before registering it on a TaskSet.
func NewTask(name string, fn TaskFunc) *Task {
	return &Task{Name: name, Weight: 1, Fn: fn}
}

// SetWeight sets the task's selection weight; must be >= 1.
func (t *Task) SetWeight(w int) *Task {
	t.Weight = w
	return t
}

// SetOnStart marks the task as the TaskSet's on-start hook.
func (t *Task) SetOnStart() *Task {
	t.OnStart = true
	return t
}

// SetOnStop marks the task as the TaskSet's on-stop hook.
func (t *Task) SetOnStop() *Task {
	t.OnStop = true
	return t
}
