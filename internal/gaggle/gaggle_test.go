package gaggle

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stampede.dev/stampede/internal/errs"
	"stampede.dev/stampede/internal/metrics"
	"stampede.dev/stampede/internal/taskset"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	return l
}

func twoEndpointServer(t *testing.T) (*httptest.Server, *int64, *int64) {
	var home, about int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			atomic.AddInt64(&home, 1)
		case "/about.html":
			atomic.AddInt64(&about, 1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &home, &about
}

func twoEndpointTaskSet() *taskset.Collection {
	ts := taskset.New("website").
		RegisterTask(taskset.NewTask("home", func(ctx context.Context, u taskset.UserHandle) error {
			_, err := u.Get(ctx, "home", "/")
			return err
		})).
		RegisterTask(taskset.NewTask("about", func(ctx context.Context, u taskset.UserHandle) error {
			_, err := u.Get(ctx, "about", "/about.html")
			return err
		}))
	col, err := taskset.NewCollection(ts)
	if err != nil {
		panic(err)
	}
	return col
}

func freeAddr(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// TestGaggle_S5_TwoWorkersOneManager mirrors spec scenario S5: a manager
// waits for two workers, partitions three users between them by round-robin
// user id, and the sum of what each worker reports equals what the manager
// aggregates.
func TestGaggle_S5_TwoWorkersOneManager(t *testing.T) {
	srv, home, about := twoEndpointServer(t)
	addr := freeAddr(t)

	managerCol := twoEndpointTaskSet()
	agg := metrics.New()
	mgr := NewManager(ManagerOptions{
		ListenAddr: addr, ExpectWorkers: 2, Host: srv.URL,
		RunTime: 2 * time.Second, HatchRate: 10, ThrottleRequests: 100,
		TotalUsers: 3, NoResetMetrics: true,
	}, managerCol, agg, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()

	managerDone := make(chan error, 1)
	go func() { managerDone <- mgr.Run(ctx) }()

	// Give the listener a moment to come up before workers dial.
	time.Sleep(100 * time.Millisecond)

	workerErrs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		w := NewWorker(WorkerOptions{ManagerAddr: addr, DialRetries: 5, DialBackoff: 200 * time.Millisecond}, twoEndpointTaskSet(), testLogger())
		go func() { workerErrs <- w.Run(ctx) }()
	}

	for i := 0; i < 2; i++ {
		require.NoError(t, <-workerErrs)
	}
	require.NoError(t, <-managerDone)

	snap := agg.Snapshot()
	total := snap.Endpoints["home"].Counter + snap.Endpoints["about"].Counter
	assert.EqualValues(t, atomic.LoadInt64(home)+atomic.LoadInt64(about), total)
	assert.Greater(t, total, int64(0))
	assert.Zero(t, snap.Endpoints["home"].FailCount)
}

// TestGaggle_FingerprintMismatch asserts a worker whose task-set collection
// hashes differently than the manager's is rejected at the handshake.
func TestGaggle_FingerprintMismatch(t *testing.T) {
	addr := freeAddr(t)

	managerCol := twoEndpointTaskSet()
	agg := metrics.New()
	mgr := NewManager(ManagerOptions{
		ListenAddr: addr, ExpectWorkers: 1, Host: "http://unused",
		RunTime: time.Second, HatchRate: 1, TotalUsers: 1,
	}, managerCol, agg, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go mgr.Run(ctx)

	time.Sleep(100 * time.Millisecond)

	mismatched := taskset.New("different-set").
		RegisterTask(taskset.NewTask("only", func(ctx context.Context, u taskset.UserHandle) error {
			_, err := u.Get(ctx, "only", "/")
			return err
		}))
	col, err := taskset.NewCollection(mismatched)
	require.NoError(t, err)

	w := NewWorker(WorkerOptions{ManagerAddr: addr, DialRetries: 5, DialBackoff: 100 * time.Millisecond}, col, testLogger())
	err = w.Run(ctx)
	require.ErrorIs(t, err, errs.ErrHandshakeMismatch)
}
