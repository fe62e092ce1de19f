// Package userrun implements the per-simulated-user runtime: the
// cooperative task loop, the HTTP request envelope, coordinated-omission
// cadence tracking, and the bounded metrics channel each user drains into
// the shared Metrics Aggregator.
package userrun

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"stampede.dev/stampede/internal/errs"
	"stampede.dev/stampede/internal/logsink"
	"stampede.dev/stampede/internal/metrics"
	"stampede.dev/stampede/internal/selector"
	"stampede.dev/stampede/internal/taskset"
	"stampede.dev/stampede/internal/throttle"
)

// metricsChanSize is the default bounded capacity of a User's metrics
// channel (spec §5: "default 1024 per user").
const metricsChanSize = 1024

// Config carries the per-user knobs the Attack Controller resolves from
// the finalised Configuration.
type Config struct {
	BaseURL             string
	RequestTimeout      time.Duration
	MaxIdleConnsPerHost int
	COMode              COMode
	MinCadence          time.Duration
	NoDebugBody         bool
	RequestBody         bool
	StatusCodesAsText   bool // not read by the user runtime: a status below 400 is a success unless the task calls SetFailure
}

type metricEvent struct {
	endpoint       string
	statusCode     int
	success        bool
	responseTimeMs int64
}

// User is one simulated client running a single TaskSet.
type User struct {
	ID           int
	TaskSetIndex int

	taskSet *taskset.TaskSet
	client  *http.Client
	baseURL string
	cfg     Config

	throttle *throttle.Throttle
	sink     *logsink.Sink
	agg      *metrics.Aggregator
	rng      *rand.Rand
	cad      *cadence

	metricsCh      chan metricEvent
	droppedMetrics int64

	taskOrder []int // not populated; dispatch state lives in rrState and serialPos
	rrState   *selector.RoundRobin

	pending    *logsink.RequestRecord
	pendingRaw *taskset.Response

	serialPos int
	start     time.Time
}

// New builds a User bound to taskSet, ready to Run.
func New(id, taskSetIndex int, ts *taskset.TaskSet, cfg Config, th *throttle.Throttle, sink *logsink.Sink, agg *metrics.Aggregator, rng *rand.Rand) *User {
	u := &User{
		ID:           id,
		TaskSetIndex: taskSetIndex,
		taskSet:      ts,
		client:       newHTTPClient(cfg.RequestTimeout, cfg.MaxIdleConnsPerHost),
		baseURL:      cfg.BaseURL,
		cfg:          cfg,
		throttle:     th,
		sink:         sink,
		agg:          agg,
		rng:          rng,
		cad:          newCadence(cfg.COMode, cfg.MinCadence),
		metricsCh:    make(chan metricEvent, metricsChanSize),
	}
	if ts.Scheduler == taskset.RoundRobin {
		weights := make([]int, len(ts.Tasks()))
		for i, t := range ts.Tasks() {
			weights[i] = t.Weight
		}
		if rr, err := selector.NewRoundRobin(weights); err == nil {
			u.rrState = rr
		}
	}
	return u
}

// DroppedMetrics returns how many metric events this user's bounded channel
// had to discard because it was full.
func (u *User) DroppedMetrics() int64 { return u.droppedMetrics }

// DrainMetrics forwards this user's metric channel into the shared
// Aggregator until the channel is closed. Run by the Attack Controller in
// its own goroutine per user, so a slow Aggregator can never stall the
// user's own request loop (only the bounded channel can, by dropping).
func (u *User) DrainMetrics() {
	for ev := range u.metricsCh {
		u.agg.RecordRequest(ev.endpoint, ev.statusCode, ev.success, ev.responseTimeMs)
	}
	if d := u.droppedMetrics; d > 0 {
		u.agg.RecordDropped(d)
	}
}

// Run executes the on-start hook (if any), the main task loop until ctx is
// done, the deadline (if non-zero) has passed, or a throttle acquire is
// cancelled, then the on-stop hook, then releases the HTTP session. It never
// returns an error: task failures are recorded, not propagated.
func (u *User) Run(ctx context.Context, deadline time.Time) {
	defer close(u.metricsCh)
	defer u.client.CloseIdleConnections()

	u.start = time.Now()

	if hook := u.taskSet.OnStart(); hook != nil {
		u.runTask(ctx, hook, -1)
	}

	weights := make([]int, len(u.taskSet.Tasks()))
	for i, t := range u.taskSet.Tasks() {
		weights[i] = t.Weight
	}

	for {
		select {
		case <-ctx.Done():
			goto stop
		default:
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}

		idx, err := u.nextTaskIndex(weights)
		if err != nil {
			break // no tasks to run; nothing more this user can do
		}
		t := u.taskSet.Tasks()[idx]

		if err := u.throttle.Acquire(ctx); err != nil {
			break
		}

		u.runTask(ctx, t, idx)

		if u.taskSet.MaxWait > 0 {
			wait := u.taskSet.MinWait
			if u.taskSet.MaxWait > u.taskSet.MinWait {
				wait += time.Duration(u.rng.Int63n(int64(u.taskSet.MaxWait - u.taskSet.MinWait)))
			}
			select {
			case <-ctx.Done():
				goto stop
			case <-time.After(wait):
			}
		}
	}

stop:
	if hook := u.taskSet.OnStop(); hook != nil {
		u.runTask(context.Background(), hook, -1)
	}
}

func (u *User) nextTaskIndex(weights []int) (int, error) {
	switch u.taskSet.Scheduler {
	case taskset.RoundRobin:
		if u.rrState == nil {
			return 0, errs.ErrEmptySelector
		}
		return u.rrState.Next(), nil
	case taskset.Serial:
		idx := u.serialPos % len(weights)
		u.serialPos++
		return idx, nil
	default:
		return selector.Weighted(weights, u.rng)
	}
}

func (u *User) runTask(ctx context.Context, t *taskset.Task, taskIndex int) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task %q panicked: %v", t.Name, r)
			}
		}()
		return t.Fn(ctx, u)
	}()
	u.flushPending()
	elapsed := time.Since(start)

	rec := &logsink.TaskRecord{
		Elapsed:      time.Since(u.start).Milliseconds(),
		TaskSetIndex: u.TaskSetIndex,
		TaskIndex:    taskIndex,
		Name:         t.Name,
		RunTimeMs:    elapsed.Milliseconds(),
		Success:      err == nil,
		User:         u.ID,
	}
	u.sink.Send(logsink.Event{Kind: logsink.KindTask, Task: rec})
}
