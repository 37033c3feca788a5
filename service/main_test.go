package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/Mr-SGXXX/pyerm/config"
	"github.com/Mr-SGXXX/pyerm/dao"
	"github.com/Mr-SGXXX/pyerm/entity"

	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	config.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

func newTestDatabase(t *testing.T, name string) *dao.Database {
	t.Helper()
	database, err := dao.OpenDatabase(context.Background(), filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = database.Close()
	})
	return database
}

// newClusteringExperiment 返回已完成 Clustering/gauss/KMeans 三项初始化的会话。
func newClusteringExperiment(t *testing.T, database *dao.Database) *Experiment {
	t.Helper()
	ctx := context.Background()

	exp, err := NewExperiment(ctx, database, 2)
	require.NoError(t, err)
	require.NoError(t, exp.TaskInit(ctx, "Clustering", nil))
	_, err = exp.DataInit(ctx, "gauss", entity.MustParams("n_samples", 300, "centers", 3, "std", 0.6))
	require.NoError(t, err)
	_, err = exp.MethodInit(ctx, "KMeans", entity.MustParams("n_clusters", 3, "init", "k-means++"))
	require.NoError(t, err)
	return exp
}

// finishRun 完成一次只包含 acc 指标的实验并返回 id。
func finishRun(t *testing.T, exp *Experiment, acc float64) int64 {
	t.Helper()
	ctx := context.Background()
	guard, err := exp.ExperimentStart(ctx, StartOptions{})
	require.NoError(t, err)
	require.NoError(t, exp.ExperimentOver(ctx, entity.MustParams("acc", acc), nil, nil, nil))
	return guard.ID()
}

// failRun 开启一次实验并以 reason 标记失败，返回 id。
func failRun(t *testing.T, exp *Experiment, reason string) int64 {
	t.Helper()
	ctx := context.Background()
	guard, err := exp.ExperimentStart(ctx, StartOptions{})
	require.NoError(t, err)
	require.NoError(t, exp.ExperimentFailed(ctx, reason, nil))
	return guard.ID()
}

func loadExperimentRow(t *testing.T, database *dao.Database, id int64) *entity.Experiment {
	t.Helper()
	experiments, err := dao.NewExperimentDAO(context.Background(), database)
	require.NoError(t, err)
	row, err := experiments.FindByID(context.Background(), id)
	require.NoError(t, err)
	return row
}
