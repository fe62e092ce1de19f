package taskset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stampede.dev/stampede/internal/errs"
)

func noop(ctx context.Context, u UserHandle) error { return nil }

func TestFreeze_RejectsEmptyTaskSet(t *testing.T) {
	ts := New("empty")
	err := ts.Freeze()
	require.ErrorIs(t, err, errs.ErrNoTasks)
}

func TestFreeze_RejectsZeroWeightTask(t *testing.T) {
	ts := New("bad").RegisterTask(NewTask("t", noop).SetWeight(0))
	err := ts.Freeze()
	require.ErrorIs(t, err, errs.ErrInvalidOption)
}

func TestFreeze_SeparatesHooks(t *testing.T) {
	ts := New("hooked").
		RegisterTask(NewTask("start", noop).SetOnStart()).
		RegisterTask(NewTask("stop", noop).SetOnStop()).
		RegisterTask(NewTask("main", noop))
	require.NoError(t, ts.Freeze())
	assert.Len(t, ts.Tasks(), 1)
	assert.Equal(t, "start", ts.OnStart().Name)
	assert.Equal(t, "stop", ts.OnStop().Name)
}

func TestCollection_WeightsAndFingerprint(t *testing.T) {
	a := New("a").RegisterTask(NewTask("t1", noop))
	b := New("b").SetWeight(3).RegisterTask(NewTask("t2", noop).SetWeight(2))
	col, err := NewCollection(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, col.Weights())

	col2, err := NewCollection(
		New("a").RegisterTask(NewTask("t1", noop)),
		New("b").SetWeight(3).RegisterTask(NewTask("t2", noop).SetWeight(2)),
	)
	require.NoError(t, err)
	assert.Equal(t, col.Fingerprint(), col2.Fingerprint())

	col3, err := NewCollection(New("a").RegisterTask(NewTask("t1", noop).SetWeight(9)))
	require.NoError(t, err)
	assert.NotEqual(t, col.Fingerprint(), col3.Fingerprint())
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	Register("only-once-"+t.Name(), func() *TaskSet { return New("x").RegisterTask(NewTask("t", noop)) })
	assert.Panics(t, func() {
		Register("only-once-"+t.Name(), func() *TaskSet { return New("x") })
	})
}

func TestRegistry_GetAndList(t *testing.T) {
	name := "registry-get-" + t.Name()
	Register(name, func() *TaskSet { return New(name).RegisterTask(NewTask("t", noop)) })
	got, err := Get(name)
	require.NoError(t, err)
	assert.Equal(t, name, got.Name)

	_, err = Get("does-not-exist-xyz")
	require.Error(t, err)

	assert.Contains(t, List(), name)
}
