package attack

import (
	"context"
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

// TestController_S1_TwoEndpointsDefaults mirrors spec scenario S1.
func TestController_S1_TwoEndpointsDefaults(t *testing.T) {
	srv, home, about := twoEndpointServer(t)
	col := twoEndpointTaskSet()
	agg := metrics.New()

	// NoResetMetrics keeps the requests issued while hatching in the
	// Aggregator, so its counters can be compared with the server's hits.
	opts := Options{
		Host: srv.URL, Users: 3, RunTime: 2 * time.Second, HatchRate: 10,
		ThrottleRequests: 100, RequestTimeout: time.Second, NoResetMetrics: true,
	}
	ctrl := New(opts, col, agg, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ctrl.Run(ctx)

	snap := ctrl.Snapshot()
	assert.Greater(t, snap.Endpoints["home"].Counter, int64(0))
	assert.Greater(t, snap.Endpoints["about"].Counter, int64(0))
	assert.Zero(t, snap.Endpoints["home"].FailCount)
	assert.EqualValues(t, atomic.LoadInt64(home), snap.Endpoints["home"].Counter)
	assert.EqualValues(t, atomic.LoadInt64(about), snap.Endpoints["about"].Counter)
	assert.Equal(t, StateStopped, ctrl.State())
}

// TestController_S2_Throttled mirrors spec scenario S2: total requests across
// the 3-second run stay within (3+1) x throttle_requests.
func TestController_S2_Throttled(t *testing.T) {
	srv, home, about := twoEndpointServer(t)
	col := twoEndpointTaskSet()
	agg := metrics.New()

	opts := Options{
		Host: srv.URL, Users: 3, RunTime: 3 * time.Second, HatchRate: 10,
		ThrottleRequests: 10, RequestTimeout: time.Second,
	}
	ctrl := New(opts, col, agg, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	_ = ctrl.Run(ctx)

	total := atomic.LoadInt64(home) + atomic.LoadInt64(about)
	assert.LessOrEqual(t, total, int64((3+1)*10))
}

func TestController_MissingHost(t *testing.T) {
	col := twoEndpointTaskSet()
	ctrl := New(Options{Users: 1, HatchRate: 1}, col, metrics.New(), testLogger())
	err := ctrl.Run(context.Background())
	require.ErrorIs(t, err, errs.ErrMissingHost)
}

func TestValidateOnly(t *testing.T) {
	col := twoEndpointTaskSet()
	fp, err := ValidateOnly(col)
	require.NoError(t, err)
	assert.NotEmpty(t, fp)

	_, err = ValidateOnly(nil)
	require.ErrorIs(t, err, errs.ErrNoTasks)
}
