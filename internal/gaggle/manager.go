package gaggle

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"stampede.dev/stampede/internal/metrics"
	"stampede.dev/stampede/internal/taskset"
)

// ManagerOptions configures the gaggle manager role.
type ManagerOptions struct {
	ListenAddr       string
	ExpectWorkers    int
	NoHashCheck      bool
	Host             string
	RunTime          time.Duration
	HatchRate        float64
	ThrottleRequests int
	TotalUsers       int
	RandomSeed       int64
	NoResetMetrics   bool
}

// Manager waits for ExpectWorkers workers to connect, verifies their
// task-set fingerprint, broadcasts Start, and aggregates streamed metric
// batches into a single Aggregator until the run ends.
type Manager struct {
	opts       ManagerOptions
	collection *taskset.Collection
	agg        *metrics.Aggregator
	log        logrus.FieldLogger
}

// NewManager builds a Manager for the given task-set collection.
func NewManager(opts ManagerOptions, collection *taskset.Collection, agg *metrics.Aggregator, log logrus.FieldLogger) *Manager {
	return &Manager{opts: opts, collection: collection, agg: agg, log: log}
}

// Run blocks until ExpectWorkers workers have connected, run it to
// completion, and returns once every worker has disconnected or ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("gaggle manager: listen: %w", err)
	}
	defer ln.Close()

	fingerprint := m.collection.Fingerprint()
	conns := m.acceptWorkers(ctx, ln, fingerprint)
	if len(conns) == 0 {
		return fmt.Errorf("gaggle manager: no workers registered")
	}

	for i, c := range conns {
		start := StartPayload{
			Host: m.opts.Host, RunTimeNanos: int64(m.opts.RunTime), HatchRate: m.opts.HatchRate,
			ThrottleRequests: m.opts.ThrottleRequests, TotalUsers: m.opts.TotalUsers,
			NumWorkers: len(conns), WorkerIndex: i, RandomSeed: m.opts.RandomSeed,
			NoResetMetrics: m.opts.NoResetMetrics,
		}
		if err := WriteFrame(c, FrameStart, start); err != nil {
			m.log.WithError(err).Warn("gaggle manager: failed to send start to worker")
		}
	}

	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c net.Conn) {
			defer wg.Done()
			m.drainWorker(i, c)
		}(i, c)
	}

	if m.opts.RunTime > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(m.opts.RunTime):
		}
	} else {
		<-ctx.Done()
	}

	for _, c := range conns {
		_ = WriteFrame(c, FrameStop, StopPayload{})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		m.log.Warn("gaggle manager: timed out waiting for final worker batches")
	}
	for _, c := range conns {
		c.Close()
	}
	return nil
}

// acceptWorkers accepts connections until ExpectWorkers have handshaked
// successfully. A fingerprint mismatch rejects that connection but does not
// count against the expected total, unless NoHashCheck is set.
func (m *Manager) acceptWorkers(ctx context.Context, ln net.Listener, fingerprint string) []net.Conn {
	conns := make([]net.Conn, 0, m.opts.ExpectWorkers)
	accepted := make(chan net.Conn)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- c
		}
	}()

	for len(conns) < m.opts.ExpectWorkers {
		select {
		case <-ctx.Done():
			return conns
		case c := <-accepted:
			kind, payload, err := ReadFrame(c)
			if err != nil || kind != FrameHello {
				m.log.WithError(err).Warn("gaggle manager: bad handshake")
				c.Close()
				continue
			}
			var hello HelloPayload
			if err := DecodePayload(payload, &hello); err != nil {
				c.Close()
				continue
			}
			if (hello.Fingerprint != fingerprint || hello.Version != frameVersion) && !m.opts.NoHashCheck {
				m.log.WithField("worker_fingerprint", hello.Fingerprint).WithField("worker_version", hello.Version).Warn("gaggle manager: fingerprint or version mismatch, rejecting worker")
				_ = WriteFrame(c, FrameFingerprintMismatch, ByePayload{})
				c.Close()
				continue
			}
			conns = append(conns, c)
		}
	}
	return conns
}

// drainWorker reads metric batches from one worker connection until it says
// Bye or disconnects. Each batch is the worker's cumulative snapshot, so only
// the latest one is merged into the shared Aggregator, once, on return. A
// worker that disconnects mid-run is tolerated: its last reported share
// stands, and the run proceeds with the survivors (spec §4.7).
func (m *Manager) drainWorker(index int, c net.Conn) {
	var last *MetricsBatchPayload
	defer func() {
		if last != nil {
			m.agg.MergeSnapshot(metrics.Snapshot{Endpoints: last.Endpoints, DroppedMetrics: last.DroppedMetrics})
		}
	}()
	for {
		kind, payload, err := ReadFrame(c)
		if err != nil {
			m.log.WithError(err).WithField("worker", index).Warn("gaggle manager: worker disconnected")
			return
		}
		switch kind {
		case FrameMetricsBatch:
			var batch MetricsBatchPayload
			if err := DecodePayload(payload, &batch); err != nil {
				continue
			}
			last = &batch
		case FrameBye:
			return
		}
	}
}
