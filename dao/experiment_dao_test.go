package dao_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Mr-SGXXX/pyerm/dao"
	"github.com/Mr-SGXXX/pyerm/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newStartParams() entity.StartParams {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)
	return entity.StartParams{
		Description:   "unit test run",
		Method:        "KMeans",
		MethodID:      1,
		Data:          "gauss",
		DataID:        1,
		Task:          "Clustering",
		StartTime:     &start,
		Tags:          "demo,test",
		Experimenters: "Alice,Bob",
	}
}

func TestExperimentDAOStartAndFinish(t *testing.T) {
	ctx := context.Background()
	experimentDAO, err := dao.NewExperimentDAO(ctx, newTestDatabase(t))
	require.NoError(t, err)

	id, err := experimentDAO.Start(ctx, newStartParams())
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	exp, err := experimentDAO.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRunning, exp.Status)
	assert.Equal(t, "KMeans", exp.Method)
	require.NotNil(t, exp.Tags)
	assert.Equal(t, "demo,test", *exp.Tags)
	assert.Nil(t, exp.EndTime)

	end := time.Date(2024, 5, 1, 10, 1, 30, 0, time.Local)
	useful := 42.5
	require.NoError(t, experimentDAO.Finish(ctx, id, &end, &useful))

	exp, err = experimentDAO.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFinished, exp.Status)
	require.NotNil(t, exp.UsefulTimeCost)
	assert.Equal(t, 42.5, *exp.UsefulTimeCost)
	require.NotNil(t, exp.TotalTimeCost)
	assert.Equal(t, 90.0, *exp.TotalTimeCost)
}

func TestExperimentDAOTerminalStatesAreFinal(t *testing.T) {
	ctx := context.Background()
	experimentDAO, err := dao.NewExperimentDAO(ctx, newTestDatabase(t))
	require.NoError(t, err)

	finished, err := experimentDAO.Start(ctx, newStartParams())
	require.NoError(t, err)
	require.NoError(t, experimentDAO.Finish(ctx, finished, nil, nil))
	assert.ErrorIs(t, experimentDAO.Fail(ctx, finished, "late failure", nil), dao.ErrInvalidTransition)
	assert.ErrorIs(t, experimentDAO.Finish(ctx, finished, nil, nil), dao.ErrInvalidTransition)

	failed, err := experimentDAO.Start(ctx, newStartParams())
	require.NoError(t, err)
	require.NoError(t, experimentDAO.Fail(ctx, failed, "boom", nil))
	assert.ErrorIs(t, experimentDAO.Finish(ctx, failed, nil, nil), dao.ErrInvalidTransition)

	exp, err := experimentDAO.FindByID(ctx, failed)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFailed, exp.Status)
	require.NotNil(t, exp.FailedReason)
	assert.Equal(t, "boom", *exp.FailedReason)
}

func TestExperimentDAOFailDefaultsToStack(t *testing.T) {
	ctx := context.Background()
	experimentDAO, err := dao.NewExperimentDAO(ctx, newTestDatabase(t))
	require.NoError(t, err)

	id, err := experimentDAO.Start(ctx, newStartParams())
	require.NoError(t, err)
	require.NoError(t, experimentDAO.Fail(ctx, id, "", nil))

	exp, err := experimentDAO.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, exp.FailedReason)
	assert.Contains(t, *exp.FailedReason, "goroutine")
}

func TestExperimentDAONotFound(t *testing.T) {
	ctx := context.Background()
	experimentDAO, err := dao.NewExperimentDAO(ctx, newTestDatabase(t))
	require.NoError(t, err)

	_, err = experimentDAO.FindByID(ctx, 99)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	assert.ErrorIs(t, experimentDAO.Finish(ctx, 99, nil, nil), gorm.ErrRecordNotFound)
	assert.ErrorIs(t, experimentDAO.DeleteByID(ctx, 99), gorm.ErrRecordNotFound)
	assert.ErrorIs(t, experimentDAO.Finish(ctx, 0, nil, nil), dao.ErrInvalidID)
}

func TestExperimentDAORemark(t *testing.T) {
	ctx := context.Background()
	experimentDAO, err := dao.NewExperimentDAO(ctx, newTestDatabase(t))
	require.NoError(t, err)

	first, err := experimentDAO.Start(ctx, newStartParams())
	require.NoError(t, err)
	second, err := experimentDAO.Start(ctx, newStartParams())
	require.NoError(t, err)

	require.NoError(t, experimentDAO.SetRemark(ctx, first, "baseline"))
	assert.ErrorIs(t, experimentDAO.SetRemark(ctx, second, "baseline"), dao.ErrDuplicateRemark)

	exps, err := experimentDAO.FindAll(ctx, "remark IS NOT NULL", "ORDER BY id")
	require.NoError(t, err)
	require.Len(t, exps, 1)
	assert.Equal(t, first, exps[0].ID)
}
