package rpc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stampede.dev/stampede/internal/attack"
	"stampede.dev/stampede/internal/metrics"
	"stampede.dev/stampede/internal/taskset"
)

func testController(t *testing.T) *attack.Controller {
	ts := taskset.New("noop").RegisterTask(taskset.NewTask("noop", func(ctx context.Context, u taskset.UserHandle) error {
		return nil
	}))
	col, err := taskset.NewCollection(ts)
	require.NoError(t, err)
	l := logrus.New()
	l.SetOutput(os.Stderr)
	return attack.New(attack.Options{Host: "http://example.com", Users: 0, HatchRate: 1}, col, metrics.New(), l)
}

func TestService_StatusAndAbortOverUnixSocket(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "stampede.sock")
	ctrl := testController(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := NewService(ctrl, cancel)
	serverDone := make(chan error, 1)
	go func() { serverDone <- Serve(ctx, sockPath, svc) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(sockPath)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	client, err := Dial(sockPath)
	require.NoError(t, err)
	defer client.Close()

	status, err := client.Status()
	require.NoError(t, err)
	assert.Equal(t, "init", status.State)

	require.NoError(t, client.Reload())
	require.NoError(t, client.Abort())

	cancel()
	require.NoError(t, <-serverDone)
}
