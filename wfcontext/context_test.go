package wfcontext

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/config"
)

func TestCreateGetValueDottedAndIndexed(t *testing.T) {
	s := New(config.Default())
	require.NoError(t, s.Create("exec-1", map[string]interface{}{
		"a": map[string]interface{}{
			"b": []interface{}{
				map[string]interface{}{"c": "hi"},
			},
		},
	}, 0))

	v, ok, err := s.GetValue("exec-1", "a.b[0].c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hi", v)

	_, ok, err = s.GetValue("exec-1", "a.b[9].c")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetValueCreatesIntermediateMaps(t *testing.T) {
	s := New(config.Default())
	require.NoError(t, s.Create("exec-1", nil, 0))

	require.NoError(t, s.SetValue("exec-1", "steps.step1.result", "done"))
	v, ok, err := s.GetValue("exec-1", "steps.step1.result")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "done", v)
}

func TestSetValueExtendsArrayByOne(t *testing.T) {
	s := New(config.Default())
	require.NoError(t, s.Create("exec-1", map[string]interface{}{"items": []interface{}{}}, 0))

	require.NoError(t, s.SetValue("exec-1", "items[0].name", "first"))
	v, ok, err := s.GetValue("exec-1", "items[0].name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", v)

	err = s.SetValue("exec-1", "items[5].name", "oob")
	assert.Error(t, err, "cannot skip ahead past array bounds")
}

func TestMergeDeepRecursesIntoMapsReplacesArrays(t *testing.T) {
	s := New(config.Default())
	require.NoError(t, s.Create("exec-1", map[string]interface{}{
		"config": map[string]interface{}{"x": 1, "y": 2},
		"tags":   []interface{}{"a", "b"},
	}, 0))

	require.NoError(t, s.Merge("exec-1", map[string]interface{}{
		"config": map[string]interface{}{"y": 99, "z": 3},
		"tags":   []interface{}{"c"},
	}, true))

	data, err := s.Get("exec-1")
	require.NoError(t, err)
	cfg := data["config"].(map[string]interface{})
	assert.Equal(t, 1, cfg["x"])
	assert.Equal(t, 99, cfg["y"])
	assert.Equal(t, 3, cfg["z"])
	assert.Equal(t, []interface{}{"c"}, data["tags"])
}

func TestSnapshotAndRestore(t *testing.T) {
	s := New(config.Default())
	require.NoError(t, s.Create("exec-1", map[string]interface{}{"v": 1}, 0))

	snap, err := s.Snapshot("exec-1", "checkpoint")
	require.NoError(t, err)

	require.NoError(t, s.SetValue("exec-1", "v", 2))
	v, _, _ := s.GetValue("exec-1", "v")
	assert.Equal(t, 2, v)

	require.NoError(t, s.Restore("exec-1", snap.ID))
	v, _, _ = s.GetValue("exec-1", "v")
	assert.Equal(t, 1, v)
}

func TestSnapshotsCappedToMostRecent(t *testing.T) {
	cfg := config.Default()
	cfg.MaxSnapshots = 2
	s := New(cfg)
	require.NoError(t, s.Create("exec-1", map[string]interface{}{}, 0))

	for i := 0; i < 5; i++ {
		_, err := s.Snapshot("exec-1", "label")
		require.NoError(t, err)
	}
	snaps, err := s.ListSnapshots("exec-1")
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}

func TestContextExpiresAfterTTL(t *testing.T) {
	s := New(config.Default())
	require.NoError(t, s.Create("exec-1", map[string]interface{}{}, 10*time.Millisecond))
	time.Sleep(25 * time.Millisecond)

	_, err := s.Get("exec-1")
	assert.Error(t, err)
}

func TestSizeAndDepthLimitsEnforced(t *testing.T) {
	cfg := config.Default()
	cfg.MaxContextDepth = 2
	s := New(cfg)
	require.NoError(t, s.Create("exec-1", map[string]interface{}{}, 0))

	err := s.SetValue("exec-1", "a.b.c", "too deep")
	assert.Error(t, err)
}

func TestResolveVariables(t *testing.T) {
	s := New(config.Default())
	require.NoError(t, s.Create("exec-1", map[string]interface{}{
		"user": map[string]interface{}{"name": "Ada"},
	}, 0))

	out, err := s.ResolveVariables("exec-1", "Hello {{user.name}}, missing: [{{nothing.here}}]")
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, missing: []", out)
}
