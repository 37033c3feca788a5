package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Mr-SGXXX/pyerm/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunGuardMarksFailedOnError(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t, "experiment.db")
	exp := newClusteringExperiment(t, database)

	var id int64
	run := func() (err error) {
		guard, err := exp.ExperimentStart(ctx, StartOptions{})
		if err != nil {
			return err
		}
		defer guard.Close(&err)
		id = guard.ID()
		return errors.New("loss is NaN")
	}
	err := run()
	assert.EqualError(t, err, "loss is NaN")
	assert.Equal(t, SessionClosed, exp.State())

	row := loadExperimentRow(t, database, id)
	assert.Equal(t, entity.StatusFailed, row.Status)
	require.NotNil(t, row.FailedReason)
	assert.Equal(t, "loss is NaN", *row.FailedReason)
}

func TestRunGuardMarksFailedOnPanic(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t, "experiment.db")
	exp := newClusteringExperiment(t, database)

	var id int64
	assert.PanicsWithValue(t, "boom", func() {
		guard, err := exp.ExperimentStart(ctx, StartOptions{})
		require.NoError(t, err)
		defer guard.Close(nil)
		id = guard.ID()
		panic("boom")
	})

	row := loadExperimentRow(t, database, id)
	assert.Equal(t, entity.StatusFailed, row.Status)
	require.NotNil(t, row.FailedReason)
	assert.Contains(t, *row.FailedReason, "panic: boom")
	assert.Contains(t, *row.FailedReason, "goroutine")

	// 会话仍可继续开启新的实验
	finishRun(t, exp, 0.9)
}

func TestRunGuardNoopAfterOver(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t, "experiment.db")
	exp := newClusteringExperiment(t, database)

	var id int64
	run := func() (err error) {
		guard, err := exp.ExperimentStart(ctx, StartOptions{})
		if err != nil {
			return err
		}
		defer guard.Close(&err)
		id = guard.ID()
		return exp.ExperimentOver(ctx, entity.MustParams("acc", 0.9), nil, nil, nil)
	}
	require.NoError(t, run())
	assert.Equal(t, entity.StatusFinished, loadExperimentRow(t, database, id).Status)
}

func TestRunGuardScopeExitWithoutOver(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t, "experiment.db")
	exp := newClusteringExperiment(t, database)

	guard, err := exp.ExperimentStart(ctx, StartOptions{})
	require.NoError(t, err)
	guard.Close(nil)
	guard.Close(nil)

	row := loadExperimentRow(t, database, guard.ID())
	assert.Equal(t, entity.StatusFailed, row.Status)
	require.NotNil(t, row.FailedReason)
	assert.Contains(t, *row.FailedReason, "before ExperimentOver")

	// 旧守卫不会影响之后的实验
	next, err := exp.ExperimentStart(ctx, StartOptions{})
	require.NoError(t, err)
	guard.Close(nil)
	assert.Equal(t, SessionStarted, exp.State())
	assert.Equal(t, entity.StatusRunning, loadExperimentRow(t, database, next.ID()).Status)
}
