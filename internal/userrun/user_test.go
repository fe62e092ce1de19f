package userrun

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stampede.dev/stampede/internal/logsink"
	"stampede.dev/stampede/internal/metrics"
	"stampede.dev/stampede/internal/taskset"
	"stampede.dev/stampede/internal/throttle"
)

func discardSink() *logsink.Sink {
	l := logrus.New()
	return logsink.New(logsink.Config{}, l)
}

func TestUser_RunIssuesRequestsAndRecordsMetrics(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ts := taskset.New("only").RegisterTask(taskset.NewTask("home", func(ctx context.Context, u taskset.UserHandle) error {
		_, err := u.Get(ctx, "home", "/")
		return err
	}))
	require.NoError(t, ts.Freeze())

	agg := metrics.New()
	sink := discardSink()
	cfg := Config{BaseURL: srv.URL, RequestTimeout: 5 * time.Second}
	u := New(0, 0, ts, cfg, throttle.Disabled(), sink, agg, rand.New(rand.NewSource(1)))

	done := make(chan struct{})
	go func() { u.DrainMetrics(); close(done) }()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	u.Run(ctx, time.Now().Add(200*time.Millisecond))
	<-done
	sink.Close()

	snap := agg.Snapshot()
	home, ok := snap.Endpoints["home"]
	require.True(t, ok)
	assert.Greater(t, home.Counter, int64(0))
	assert.Equal(t, home.Counter, home.SuccessCount)
	assert.EqualValues(t, atomic.LoadInt64(&hits), home.Counter)
}

func TestUser_FailedRequestRecordsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ts := taskset.New("only").RegisterTask(taskset.NewTask("broken", func(ctx context.Context, u taskset.UserHandle) error {
		_, err := u.Get(ctx, "broken", "/")
		return err
	}))
	require.NoError(t, ts.Freeze())

	agg := metrics.New()
	sink := discardSink()
	cfg := Config{BaseURL: srv.URL, RequestTimeout: 5 * time.Second}
	u := New(0, 0, ts, cfg, throttle.Disabled(), sink, agg, rand.New(rand.NewSource(1)))

	done := make(chan struct{})
	go func() { u.DrainMetrics(); close(done) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	u.Run(ctx, time.Now().Add(50*time.Millisecond))
	<-done
	sink.Close()

	snap := agg.Snapshot()
	broken := snap.Endpoints["broken"]
	assert.Equal(t, broken.Counter, broken.FailCount)
	assert.Zero(t, broken.SuccessCount)
}

func TestUser_SetFailureMarksPendingRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	ts := taskset.New("only").RegisterTask(taskset.NewTask("app-level-fail", func(ctx context.Context, u taskset.UserHandle) error {
		resp, err := u.Get(ctx, "app-level-fail", "/")
		if err != nil {
			return err
		}
		u.SetFailure("business-rule-violation", resp)
		return nil
	}))
	require.NoError(t, ts.Freeze())

	agg := metrics.New()
	sink := discardSink()
	cfg := Config{BaseURL: srv.URL, RequestTimeout: 5 * time.Second}
	u := New(0, 0, ts, cfg, throttle.Disabled(), sink, agg, rand.New(rand.NewSource(1)))

	done := make(chan struct{})
	go func() { u.DrainMetrics(); close(done) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	u.Run(ctx, time.Now().Add(50*time.Millisecond))
	<-done
	sink.Close()

	snap := agg.Snapshot()
	ep := snap.Endpoints["app-level-fail"]
	assert.Greater(t, ep.Counter, int64(0))
	assert.Equal(t, ep.Counter, ep.FailCount)
}
