package orchestrate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taskReturning(id string, out interface{}, err error) Task {
	return Task{ID: id, Run: func(ctx context.Context, taskCtx map[string]interface{}) (interface{}, error) {
		return out, err
	}}
}

func TestSequentialThreadsResultsAndShortCircuits(t *testing.T) {
	taskCtx := map[string]interface{}{}
	tasks := []Task{
		taskReturning("a", "A", nil),
		taskReturning("b", nil, errors.New("boom")),
		taskReturning("c", "C", nil),
	}
	results, err := Sequential(context.Background(), tasks, taskCtx)
	require.Error(t, err)
	assert.Len(t, results, 2, "c never runs after b fails")
	assert.Equal(t, "A", taskCtx["_lastResult"])
	assert.Equal(t, "A", taskCtx["_task_a"])
}

func TestParallelAllMustSucceed(t *testing.T) {
	tasks := []Task{
		taskReturning("a", "A", nil),
		taskReturning("b", nil, errors.New("boom")),
		taskReturning("c", "C", nil),
	}
	results, err := Parallel(context.Background(), tasks, 2, nil)
	require.Error(t, err)
	assert.Len(t, results, 3)
}

func TestConditionalPicksFirstMatching(t *testing.T) {
	taskCtx := map[string]interface{}{"flag": true}
	tasks := []Task{
		{ID: "skip", Condition: "context.flag == false", Run: func(ctx context.Context, c map[string]interface{}) (interface{}, error) { return "skip", nil }},
		{ID: "match", Condition: "context.flag == true", Run: func(ctx context.Context, c map[string]interface{}) (interface{}, error) { return "match", nil }},
		{ID: "fallback", Run: func(ctx context.Context, c map[string]interface{}) (interface{}, error) { return "fallback", nil }},
	}
	result, err := Conditional(context.Background(), tasks, taskCtx)
	require.NoError(t, err)
	assert.Equal(t, "match", result.TaskID)
}

func TestConditionalFallsBackToUnconditional(t *testing.T) {
	taskCtx := map[string]interface{}{"flag": false}
	tasks := []Task{
		{ID: "conditional-only", Condition: "context.flag == true", Run: func(ctx context.Context, c map[string]interface{}) (interface{}, error) { return "x", nil }},
		{ID: "fallback", Run: func(ctx context.Context, c map[string]interface{}) (interface{}, error) { return "fallback", nil }},
	}
	result, err := Conditional(context.Background(), tasks, taskCtx)
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.TaskID)
}

func TestMapReduceAggregates(t *testing.T) {
	items := []interface{}{1, 2, 3, 4}
	mapTask := func(ctx context.Context, item interface{}, taskCtx map[string]interface{}) (interface{}, error) {
		return item.(int) * 2, nil
	}
	reduce := &Task{ID: "sum", Run: func(ctx context.Context, taskCtx map[string]interface{}) (interface{}, error) {
		results := taskCtx["_mapResults"].([]interface{})
		total := 0
		for _, r := range results {
			total += r.(int)
		}
		return total, nil
	}}

	mapped, reduced, err := MapReduce(context.Background(), mapTask, reduce, items, 2, 10, nil)
	require.NoError(t, err)
	assert.Len(t, mapped, 4)
	assert.Equal(t, 20, reduced)
}

func TestMapReduceRejectsOverMaxItems(t *testing.T) {
	items := []interface{}{1, 2, 3}
	mapTask := func(ctx context.Context, item interface{}, taskCtx map[string]interface{}) (interface{}, error) {
		return item, nil
	}
	_, _, err := MapReduce(context.Background(), mapTask, nil, items, 1, 2, nil)
	assert.Error(t, err)
}
