package gaggle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"stampede.dev/stampede/internal/attack"
	"stampede.dev/stampede/internal/errs"
	"stampede.dev/stampede/internal/metrics"
	"stampede.dev/stampede/internal/taskset"
	"stampede.dev/stampede/internal/userrun"
)

// WorkerOptions configures the gaggle worker role.
type WorkerOptions struct {
	ManagerAddr string
	DialRetries int
	DialBackoff time.Duration
}

// Worker connects to a manager, waits for Start, runs the same Attack
// Controller pipeline locally against its assigned share of users, and
// streams metric batches back every second.
type Worker struct {
	opts       WorkerOptions
	collection *taskset.Collection
	log        logrus.FieldLogger

	writeMu sync.Mutex
}

// NewWorker builds a Worker for the given task-set collection.
func NewWorker(opts WorkerOptions, collection *taskset.Collection, log logrus.FieldLogger) *Worker {
	if opts.DialRetries <= 0 {
		opts.DialRetries = 3
	}
	if opts.DialBackoff <= 0 {
		opts.DialBackoff = 2 * time.Second
	}
	return &Worker{opts: opts, collection: collection, log: log}
}

// Run connects to the manager, completes the handshake, runs the attack,
// and streams metrics until Stop is received or the connection closes.
func (w *Worker) Run(ctx context.Context) error {
	conn, err := w.dial()
	if err != nil {
		return fmt.Errorf("gaggle worker: %w: %w", errs.ErrManagerUnreachable, err)
	}
	defer conn.Close()

	if err := w.writeFrame(conn, FrameHello, HelloPayload{Version: frameVersion, Fingerprint: w.collection.Fingerprint()}); err != nil {
		return fmt.Errorf("gaggle worker: handshake: %w", err)
	}

	kind, payload, err := ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("gaggle worker: awaiting start: %w", err)
	}
	if kind == FrameFingerprintMismatch {
		return errs.ErrHandshakeMismatch
	}
	if kind != FrameStart {
		return fmt.Errorf("gaggle worker: expected start frame, got %v", kind)
	}
	var start StartPayload
	if err := DecodePayload(payload, &start); err != nil {
		return fmt.Errorf("gaggle worker: decode start: %w", err)
	}

	myUsers := 0
	for id := 0; id < start.TotalUsers; id++ {
		if id%start.NumWorkers == start.WorkerIndex {
			myUsers++
		}
	}

	agg := metrics.New()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go w.watchForStop(conn, cancel)

	go w.streamMetrics(runCtx, conn, agg)

	opts := attack.Options{
		Host: start.Host, Users: myUsers, RunTime: time.Duration(start.RunTimeNanos),
		HatchRate: start.HatchRate, ThrottleRequests: start.ThrottleRequests,
		NoResetMetrics: start.NoResetMetrics, RandomSeed: start.RandomSeed,
		COMode: userrun.COMode(start.COMode), RequestTimeout: 60 * time.Second,
	}
	ctrl := attack.New(opts, w.collection, agg, w.log)
	runErr := ctrl.Run(runCtx)
	// A Stop frame, or the manager closing the connection, ends the run by
	// cancelling runCtx; that is a normal finish, not a failure.
	if errors.Is(runErr, context.Canceled) && ctx.Err() == nil {
		runErr = nil
	}

	// Send one final batch so the manager has the last word even if the
	// worker finished before the manager's own deadline.
	w.sendBatch(conn, agg)
	_ = w.writeFrame(conn, FrameBye, ByePayload{})

	return runErr
}

// writeFrame serialises writes to conn: streamMetrics and the final batch
// send both reach this connection from different goroutines, and WriteFrame
// issues more than one Write call per frame.
func (w *Worker) writeFrame(conn net.Conn, kind FrameKind, payload interface{}) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return WriteFrame(conn, kind, payload)
}

func (w *Worker) dial() (net.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < w.opts.DialRetries; attempt++ {
		conn, err := net.Dial("tcp", w.opts.ManagerAddr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(w.opts.DialBackoff)
	}
	return nil, lastErr
}

func (w *Worker) watchForStop(conn net.Conn, cancel context.CancelFunc) {
	for {
		kind, _, err := ReadFrame(conn)
		if err != nil {
			cancel()
			return
		}
		if kind == FrameStop {
			cancel()
			return
		}
	}
}

func (w *Worker) streamMetrics(ctx context.Context, conn net.Conn, agg *metrics.Aggregator) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sendBatch(conn, agg)
		}
	}
}

func (w *Worker) sendBatch(conn net.Conn, agg *metrics.Aggregator) {
	snap := agg.Snapshot()
	batch := MetricsBatchPayload{Endpoints: snap.Endpoints, DroppedMetrics: snap.DroppedMetrics}
	if err := w.writeFrame(conn, FrameMetricsBatch, batch); err != nil {
		w.log.WithError(err).Debug("gaggle worker: failed to send metrics batch")
	}
}
