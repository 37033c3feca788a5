package service

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/Mr-SGXXX/pyerm/dao"
	"github.com/Mr-SGXXX/pyerm/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExperimentClusteringRun(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t, "experiment.db")

	exp, err := NewExperiment(ctx, database, 2)
	require.NoError(t, err)
	assert.Equal(t, SessionUninitialized, exp.State())

	require.NoError(t, exp.TaskInit(ctx, "Clustering", nil))
	dataID, err := exp.DataInit(ctx, "gauss", entity.MustParams("n_samples", 300, "centers", 3))
	require.NoError(t, err)
	assert.Equal(t, int64(1), dataID)
	assert.Equal(t, SessionUninitialized, exp.State())

	methodID, err := exp.MethodInit(ctx, "KMeans", entity.MustParams("n_clusters", 3))
	require.NoError(t, err)
	assert.Equal(t, int64(1), methodID)
	assert.Equal(t, SessionReady, exp.State())

	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)
	guard, err := exp.ExperimentStart(ctx, StartOptions{
		Description:   "kmeans on blobs",
		StartTime:     &start,
		Tags:          []string{"baseline", "blobs"},
		Experimenters: []string{"Alice"},
	})
	require.NoError(t, err)
	assert.Equal(t, SessionStarted, exp.State())
	assert.Equal(t, guard.ID(), exp.ID())
	assert.Equal(t, 1, exp.RunTimes())

	for epoch := 1; epoch <= 3; epoch++ {
		require.NoError(t, exp.DetailUpdate(ctx, entity.MustParams("epoch", epoch, "inertia", 100.0/float64(epoch))))
	}

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{G: 255, A: 255})
	end := start.Add(2 * time.Minute)
	useful := 100.0
	require.NoError(t, exp.ExperimentOver(ctx,
		entity.MustParams("nmi", 0.91, "ari", 0.88),
		entity.Images{entity.ImageFromImage("clusters", img)},
		&end, &useful))
	assert.Equal(t, SessionClosed, exp.State())
	assert.Zero(t, exp.ID())

	experiments, err := dao.NewExperimentDAO(ctx, database)
	require.NoError(t, err)
	row, err := experiments.FindByID(ctx, guard.ID())
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFinished, row.Status)
	assert.Equal(t, "Clustering", row.Task)
	assert.Equal(t, "KMeans", row.Method)
	assert.Equal(t, "gauss", row.Data)
	require.NotNil(t, row.Tags)
	assert.Equal(t, "baseline,blobs", *row.Tags)
	require.NotNil(t, row.TotalTimeCost)
	assert.Equal(t, 120.0, *row.TotalTimeCost)

	results, err := dao.OpenResultDAO(ctx, database, "Clustering", nil, 0)
	require.NoError(t, err)
	record, err := results.FindByExperimentID(ctx, guard.ID())
	require.NoError(t, err)
	assert.InDelta(t, 0.91, record.Metrics["nmi"], 1e-9)
	assert.Equal(t, []string{"clusters"}, record.ImageNames)
	assert.NotEmpty(t, record.Images["clusters"])

	details, err := dao.OpenDetailDAO(ctx, database, guard.ID(), nil)
	require.NoError(t, err)
	rs, err := details.FindAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rs.Len())

	// 第二次运行复用相同的参数行
	dataID, err = exp.DataInit(ctx, "gauss", entity.MustParams("n_samples", 300, "centers", 3))
	require.NoError(t, err)
	assert.Equal(t, int64(1), dataID)
	next, err := exp.ExperimentStart(ctx, StartOptions{})
	require.NoError(t, err)
	require.NoError(t, exp.ExperimentOver(ctx, entity.MustParams("nmi", 0.5), nil, nil, nil))
	assert.Equal(t, guard.ID()+1, next.ID())
	assert.Equal(t, 2, exp.RunTimes())
}

func TestExperimentNoParams(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t, "experiment.db")

	exp, err := NewExperiment(ctx, database, 2)
	require.NoError(t, err)
	require.NoError(t, exp.TaskInit(ctx, "Clustering", nil))
	dataID, err := exp.DataInit(ctx, "iris", nil)
	require.NoError(t, err)
	methodID, err := exp.MethodInit(ctx, "DBSCAN", entity.Params{})
	require.NoError(t, err)

	assert.Equal(t, entity.NoParamsID, dataID)
	assert.Equal(t, entity.NoParamsID, methodID)
	assert.False(t, database.HasTable("data_iris"))
	assert.False(t, database.HasTable("method_DBSCAN"))

	id := finishRun(t, exp, 0.7)
	experiments, err := dao.NewExperimentDAO(ctx, database)
	require.NoError(t, err)
	row, err := experiments.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.NoParamsID, row.DataID)
	assert.Equal(t, entity.NoParamsID, row.MethodID)
}

func TestExperimentStartRequiresInit(t *testing.T) {
	ctx := context.Background()
	exp, err := NewExperiment(ctx, newTestDatabase(t, "experiment.db"), 2)
	require.NoError(t, err)
	require.NoError(t, exp.TaskInit(ctx, "Clustering", nil))

	_, err = exp.ExperimentStart(ctx, StartOptions{})
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorContains(t, err, "data, method")

	assert.ErrorIs(t, exp.ExperimentOver(ctx, entity.MustParams("acc", 1.0), nil, nil, nil), ErrNotInitialized)
	assert.ErrorIs(t, exp.DetailUpdate(ctx, entity.MustParams("epoch", 1)), ErrNotInitialized)
	assert.ErrorIs(t, exp.ExperimentFailed(ctx, "boom", nil), ErrNotInitialized)

	assert.ErrorIs(t, exp.TaskInit(ctx, "  ", nil), dao.ErrInvalidName)
}

func TestExperimentRunInProgress(t *testing.T) {
	ctx := context.Background()
	exp := newClusteringExperiment(t, newTestDatabase(t, "experiment.db"))

	_, err := exp.ExperimentStart(ctx, StartOptions{})
	require.NoError(t, err)
	_, err = exp.ExperimentStart(ctx, StartOptions{})
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestExperimentResultSchemaLock(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t, "experiment.db")
	exp := newClusteringExperiment(t, database)

	_, err := exp.ExperimentStart(ctx, StartOptions{})
	require.NoError(t, err)
	require.NoError(t, exp.ExperimentOver(ctx, entity.MustParams("nmi", 0.9, "ari", 0.8), nil, nil, nil))

	// 子集可以写入
	_, err = exp.ExperimentStart(ctx, StartOptions{})
	require.NoError(t, err)
	require.NoError(t, exp.ExperimentOver(ctx, entity.MustParams("nmi", 0.7), nil, nil, nil))

	// 新会话同样受已有结果表约束
	other := newClusteringExperiment(t, database)
	_, err = other.ExperimentStart(ctx, StartOptions{})
	require.NoError(t, err)
	err = other.ExperimentOver(ctx, entity.MustParams("nmi", 0.7, "f1", 0.6), nil, nil, nil)
	assert.ErrorIs(t, err, ErrResultSchemaMismatch)
	assert.Equal(t, SessionStarted, other.State())
	require.NoError(t, other.ExperimentFailed(ctx, "result mismatch", nil))

	// TaskInit 给出的默认结果列在第一次运行前建表
	require.NoError(t, other.TaskInit(ctx, "Classification", entity.MustParams("acc", 0.0, "f1", 0.0)))
	assert.True(t, database.HasTable("result_Classification"))
	_, err = other.ExperimentStart(ctx, StartOptions{})
	require.NoError(t, err)
	err = other.ExperimentOver(ctx, entity.MustParams("recall", 0.5), nil, nil, nil)
	assert.ErrorIs(t, err, ErrResultSchemaMismatch)
	require.NoError(t, other.ExperimentOver(ctx, entity.MustParams("acc", 0.93), nil, nil, nil))
}

func TestExperimentCloseFailsRunningRun(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "experiment.db")
	database, err := dao.OpenDatabase(ctx, path)
	require.NoError(t, err)
	exp := newClusteringExperiment(t, database)

	guard, err := exp.ExperimentStart(ctx, StartOptions{})
	require.NoError(t, err)
	require.NoError(t, exp.Close(ctx))

	database, err = dao.OpenDatabase(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	experiments, err := dao.NewExperimentDAO(ctx, database)
	require.NoError(t, err)
	row, err := experiments.FindByID(ctx, guard.ID())
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFailed, row.Status)
	require.NotNil(t, row.FailedReason)
	assert.Contains(t, *row.FailedReason, "closed while running")
}
