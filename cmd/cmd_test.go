package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stampede.dev/stampede/internal/config"
	"stampede.dev/stampede/internal/logsink"
	"stampede.dev/stampede/internal/taskset"
)

func init() {
	taskset.Register("cmd-test-fixture", func() *taskset.TaskSet {
		return taskset.New("cmd-test-fixture").
			RegisterTask(taskset.NewTask("ping", func(ctx context.Context, u taskset.UserHandle) error {
				_, err := u.Get(ctx, "ping", "/ping")
				return err
			}))
	})
}

func TestBuildSinkConfig_ParsesAllFormats(t *testing.T) {
	opts := &config.RunOptions{
		RequestFormat: "csv", TaskFormat: "json", ErrorFormat: "raw", DebugFormat: "pretty",
		RequestLog: "/tmp/req.log",
	}
	cfg, err := buildSinkConfig(opts)
	require.NoError(t, err)
	assert.Equal(t, logsink.FormatCSV, cfg.Request.Format)
	assert.Equal(t, logsink.FormatJSON, cfg.Task.Format)
	assert.Equal(t, logsink.FormatRaw, cfg.Error.Format)
	assert.Equal(t, logsink.FormatPretty, cfg.Debug.Format)
	assert.Equal(t, "/tmp/req.log", cfg.Request.Path)
}

func TestBuildSinkConfig_RejectsUnknownFormat(t *testing.T) {
	opts := &config.RunOptions{RequestFormat: "xml", TaskFormat: "csv", ErrorFormat: "csv", DebugFormat: "csv"}
	_, err := buildSinkConfig(opts)
	require.Error(t, err)
}

func TestBuildCollection_ResolvesRegisteredTaskSets(t *testing.T) {
	tasksFlag = "cmd-test-fixture"
	defer func() { tasksFlag = "" }()

	col, err := buildCollection()
	require.NoError(t, err)
	assert.Len(t, col.Sets, 1)
	assert.Equal(t, "cmd-test-fixture", col.Sets[0].Name)
}

func TestBuildCollection_RequiresTasksFlag(t *testing.T) {
	tasksFlag = ""
	_, err := buildCollection()
	require.Error(t, err)
}

func TestBuildCollection_UnknownNameErrors(t *testing.T) {
	tasksFlag = "does-not-exist"
	defer func() { tasksFlag = "" }()
	_, err := buildCollection()
	require.Error(t, err)
}
