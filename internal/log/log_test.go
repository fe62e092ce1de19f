package log

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DefaultsToInfoOnBadLevel(t *testing.T) {
	resetForTest(t)
	Init(&LoggerConfig{Pattern: "%time %level %msg", Time: "15:04:05", Level: "not-a-level"})
	require.NotNil(t, GetLogger())
	assert.True(t, Base().IsLevelEnabled(4)) // logrus.InfoLevel
}

func TestInit_FileNameFansOutToDisk(t *testing.T) {
	resetForTest(t)
	path := filepath.Join(t.TempDir(), "stampede.log")
	Init(&LoggerConfig{Pattern: "%msg\n", Time: "15:04:05", Level: "info", FileName: path})

	GetLogger().Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func resetForTest(t *testing.T) {
	t.Helper()
	once = sync.Once{}
}
