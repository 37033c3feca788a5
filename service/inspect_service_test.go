package service

import (
	"context"
	"testing"

	"github.com/Mr-SGXXX/pyerm/dao"
	"github.com/Mr-SGXXX/pyerm/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectServiceExperimentDetail(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t, "experiment.db")
	exp := newClusteringExperiment(t, database)

	_, err := exp.ExperimentStart(ctx, StartOptions{})
	require.NoError(t, err)
	id := exp.ID()
	require.NoError(t, exp.DetailUpdate(ctx, entity.MustParams("epoch", 1, "loss", 0.3)))
	require.NoError(t, exp.ExperimentOver(ctx, entity.MustParams("acc", 0.9), nil, nil, nil))
	failed := failRun(t, exp, "diverged")

	svc := NewInspectService(database)
	detail, err := svc.ExperimentDetail(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFinished, detail.Experiment.Status)
	assert.EqualValues(t, 300, detail.Data["n_samples"])
	assert.EqualValues(t, 3, detail.Method["n_clusters"])
	require.NotNil(t, detail.Result)
	assert.InDelta(t, 0.9, detail.Result.Metrics["acc"], 1e-9)
	require.NotNil(t, detail.Details)
	assert.Equal(t, 1, detail.Details.Len())

	detail, err = svc.ExperimentDetail(ctx, failed)
	require.NoError(t, err)
	assert.Nil(t, detail.Result)
	assert.Nil(t, detail.Details)

	_, err = svc.ExperimentDetail(ctx, 99)
	assert.ErrorIs(t, err, dao.ErrRecordNotFound)
}

func TestInspectServiceRelationsAndRemark(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t, "experiment.db")
	id := finishRun(t, newClusteringExperiment(t, database), 0.9)

	svc := NewInspectService(database)
	relations, err := svc.Relations(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(relations))
	for _, r := range relations {
		names = append(names, r.Name)
		assert.Equal(t, "table", r.Kind)
		assert.NotEmpty(t, r.Columns)
		if r.Name == "result_Clustering" {
			assert.Equal(t, "REAL", r.Types["acc"])
			assert.Equal(t, "INTEGER", r.Types["experiment_id"])
		}
	}
	assert.ElementsMatch(t, []string{dao.ExperimentTableName, "data_gauss", "method_KMeans", "result_Clustering"}, names)

	require.NoError(t, svc.SetRemark(ctx, "experiment", "", id, "baseline"))
	require.NoError(t, svc.SetRemark(ctx, "method", "KMeans", 1, "k3"))
	require.NoError(t, svc.SetRemark(ctx, "data", "gauss", 1, "blobs"))
	assert.Error(t, svc.SetRemark(ctx, "result", "Clustering", 1, "x"))

	rs, err := svc.Query(ctx, "method_KMeans", entity.SelectQuery{
		Columns: []string{"method_id"},
		Where:   "remark = 'k3'",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Len())

	_, err = svc.Query(ctx, "missing", entity.SelectQuery{})
	assert.ErrorIs(t, err, dao.ErrNotFound)
}

func TestInspectServiceResolveExperimentID(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t, "experiment.db")
	id := finishRun(t, newClusteringExperiment(t, database), 0.9)

	svc := NewInspectService(database)
	require.NoError(t, svc.SetRemark(ctx, "experiment", "", id, "baseline"))

	got, err := svc.ResolveExperimentID(ctx, "baseline")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	got, err = svc.ResolveExperimentID(ctx, " 7 ")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)

	_, err = svc.ResolveExperimentID(ctx, "-1")
	assert.ErrorIs(t, err, dao.ErrInvalidID)
	_, err = svc.ResolveExperimentID(ctx, "missing")
	assert.ErrorIs(t, err, dao.ErrRecordNotFound)
	_, err = svc.ResolveExperimentID(ctx, "")
	assert.ErrorIs(t, err, dao.ErrInvalidName)
}
