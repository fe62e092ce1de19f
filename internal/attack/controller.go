// Package attack implements the Attack Controller: the top-level state
// machine that validates configuration, launches the Logger Sink, hatches
// Users at a controlled rate, enforces the run-time deadline, and drains
// and shuts down cleanly.
package attack

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"stampede.dev/stampede/internal/errs"
	"stampede.dev/stampede/internal/logsink"
	"stampede.dev/stampede/internal/metrics"
	"stampede.dev/stampede/internal/selector"
	"stampede.dev/stampede/internal/taskset"
	"stampede.dev/stampede/internal/throttle"
	"stampede.dev/stampede/internal/userrun"
)

// State is a position in the controller's linear lifecycle:
// Init -> Starting -> Hatching -> Running -> Stopping -> Stopped.
type State int

const (
	StateInit State = iota
	StateStarting
	StateHatching
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStarting:
		return "starting"
	case StateHatching:
		return "hatching"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// gracePeriod bounds how long Stopping waits for Users to exit on their own
// before their in-flight metrics are abandoned (spec §5).
const gracePeriod = 30 * time.Second

// Options carries the finalised configuration an attack run is driven by.
type Options struct {
	Host                string
	Users               int
	RunTime             time.Duration
	HatchRate           float64
	ThrottleRequests    int
	NoResetMetrics      bool
	RunningMetricsEvery time.Duration
	RandomSeed          int64
	COMode              userrun.COMode
	MinCadence          time.Duration
	RequestTimeout      time.Duration
	MaxIdleConnsPerHost int
	LogSink             logsink.Config
}

// Controller owns a single attack run end to end.
type Controller struct {
	opts       Options
	collection *taskset.Collection
	log        logrus.FieldLogger
	rng        *rand.Rand

	agg      *metrics.Aggregator
	sink     *logsink.Sink
	throttle *throttle.Throttle

	mu    sync.Mutex
	state State
	users []*userrun.User

	userCtx    context.Context
	userCancel context.CancelFunc
	userWG     sync.WaitGroup

	startedAt  time.Time
	runDeadline time.Time
}

// New builds a Controller in state Init. The collection is validated
// (Freeze-on-demand) during Run, not here, so configuration errors surface
// uniformly through Run's return value.
func New(opts Options, collection *taskset.Collection, agg *metrics.Aggregator, log logrus.FieldLogger) *Controller {
	return &Controller{
		opts:       opts,
		collection: collection,
		agg:        agg,
		log:        log,
		state:      StateInit,
	}
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.log.WithField("state", s.String()).Info("attack controller state transition")
}

// Run drives the controller through its entire lifecycle and blocks until
// the run completes, ctx is cancelled, or a fatal configuration error
// occurs at Init.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.initialise(); err != nil {
		return err
	}
	c.start()
	c.hatch(ctx)
	c.setState(StateRunning)
	c.waitForDeadlineOrCancel(ctx)
	c.stop()
	return ctx.Err()
}

// initialise validates the Host and task-set collection, per spec §4.6
// (Init -> Starting transition preconditions).
func (c *Controller) initialise() error {
	if c.opts.Host == "" {
		return errs.ErrMissingHost
	}
	if c.collection == nil || len(c.collection.Sets) == 0 {
		return errs.ErrNoTasks
	}
	for _, ts := range c.collection.Sets {
		if !ts.Frozen() {
			if err := ts.Freeze(); err != nil {
				return err
			}
		}
	}
	seed := c.opts.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	c.rng = rand.New(rand.NewSource(seed))
	return nil
}

// start spawns the Logger Sink and Throttle (Init -> Starting).
func (c *Controller) start() {
	c.setState(StateStarting)
	c.sink = logsink.New(c.opts.LogSink, c.log)
	c.throttle = throttle.New(c.opts.ThrottleRequests)
	c.userCtx, c.userCancel = context.WithCancel(context.Background())
}

// hatch creates Users at exactly HatchRate per second (Starting -> Hatching
// -> Running). Sleeps on a monotonic clock between hatches so jitter does
// not accumulate.
func (c *Controller) hatch(ctx context.Context) {
	c.setState(StateHatching)
	c.startedAt = time.Now()
	if c.opts.RunTime > 0 {
		c.runDeadline = c.startedAt.Add(c.opts.RunTime)
	}

	weights := c.collection.Weights()
	interval := time.Duration(float64(time.Second) / c.opts.HatchRate)
	next := time.Now()

	cfg := userrun.Config{
		BaseURL:             c.opts.Host,
		RequestTimeout:      c.opts.RequestTimeout,
		MaxIdleConnsPerHost: c.opts.MaxIdleConnsPerHost,
		COMode:              c.opts.COMode,
		MinCadence:          c.opts.MinCadence,
	}

	for i := 0; i < c.opts.Users; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tsIdx, err := selector.Weighted(weights, c.rng)
		if err != nil {
			c.log.WithError(err).Error("failed to assign user to task set")
			return
		}
		u := userrun.New(i, tsIdx, c.collection.Sets[tsIdx], cfg, c.throttle, c.sink, c.agg, c.rng)
		deadline := c.runDeadline

		c.mu.Lock()
		c.users = append(c.users, u)
		c.mu.Unlock()

		c.userWG.Add(1)
		go func() {
			defer c.userWG.Done()
			drained := make(chan struct{})
			go func() {
				u.DrainMetrics()
				close(drained)
			}()
			u.Run(c.userCtx, deadline)
			<-drained
		}()

		if i < c.opts.Users-1 {
			next = next.Add(interval)
			if d := time.Until(next); d > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(d):
				}
			}
		}
	}

	if !c.opts.NoResetMetrics {
		c.agg.Reset()
	}
}

// waitForDeadlineOrCancel blocks until RunTime elapses or ctx is cancelled,
// emitting a --running-metrics snapshot every RunningMetricsEvery if set.
func (c *Controller) waitForDeadlineOrCancel(ctx context.Context) {
	var tick <-chan time.Time
	if c.opts.RunningMetricsEvery > 0 {
		ticker := time.NewTicker(c.opts.RunningMetricsEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	var deadlineCh <-chan time.Time
	if c.opts.RunTime > 0 {
		timer := time.NewTimer(time.Until(c.runDeadline))
		defer timer.Stop()
		deadlineCh = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadlineCh:
			return
		case <-tick:
			snap := c.agg.Snapshot()
			c.log.WithField("endpoints", len(snap.Endpoints)).Info("running metrics snapshot")
		}
	}
}

// stop performs the ordered shutdown: cancel users, join them (a user is
// joined once its metrics have drained into the Aggregator) with a grace
// period, close the Logger Sink (Running -> Stopping -> Stopped).
func (c *Controller) stop() {
	c.setState(StateStopping)

	c.userCancel()

	joined := make(chan struct{})
	go func() {
		c.userWG.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(gracePeriod):
		c.log.Warn("grace period expired; abandoning in-flight users")
	}

	c.sink.Close()
	c.setState(StateStopped)
}

// Snapshot exposes the current Metrics Aggregator state, for an operator
// report or a status RPC.
func (c *Controller) Snapshot() metrics.Snapshot {
	return c.agg.Snapshot()
}

// ValidateOnly freezes and fingerprints the collection without starting any
// component, for `stampede validate`.
func ValidateOnly(collection *taskset.Collection) (string, error) {
	if collection == nil || len(collection.Sets) == 0 {
		return "", errs.ErrNoTasks
	}
	for _, ts := range collection.Sets {
		if !ts.Frozen() {
			if err := ts.Freeze(); err != nil {
				return "", fmt.Errorf("validating task sets: %w", err)
			}
		}
	}
	return collection.Fingerprint(), nil
}
