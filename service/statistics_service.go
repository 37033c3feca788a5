package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mr-SGXXX/pyerm/dao"
	"github.com/Mr-SGXXX/pyerm/entity"

	"github.com/montanaflynn/stats"
	"github.com/samber/lo"
)

// StatisticsService 回答“同一设置下的实验结果如何分布”这类问题。
type StatisticsService struct {
	db    *dao.Database
	cache *StatisticsCache
}

func NewStatisticsService(database *dao.Database, cache *StatisticsCache) *StatisticsService {
	return &StatisticsService{db: database, cache: cache}
}

func (s *StatisticsService) ledger(ctx context.Context) (*dao.Table, error) {
	table, err := s.db.Table(ctx, dao.ExperimentTableName)
	if errors.Is(err, dao.ErrNotFound) {
		return nil, nil
	}
	return table, err
}

// distinct 返回台账中 column 列满足条件的去重值，按值排序。
func (s *StatisticsService) distinct(ctx context.Context, column string, where string, args ...any) ([]any, error) {
	table, err := s.ledger(ctx)
	if err != nil || table == nil {
		return nil, err
	}
	rs, err := table.SelectArgs(ctx, entity.SelectQuery{
		Columns: []string{column},
		Where:   entity.RawPredicate(where),
		Other:   entity.RawClause(fmt.Sprintf("GROUP BY %s ORDER BY %s", column, column)),
	}, args...)
	if err != nil {
		return nil, err
	}
	return lo.Map(rs.Rows, func(row []any, _ int) any {
		return row[0]
	}), nil
}

func asStrings(values []any) []string {
	return lo.Map(values, func(v any, _ int) string {
		return fmt.Sprint(v)
	})
}

func asInt64s(values []any) []int64 {
	return lo.FilterMap(values, func(v any, _ int) (int64, bool) {
		n, ok := v.(int64)
		return n, ok
	})
}

// Tasks 返回台账中出现过的任务。
func (s *StatisticsService) Tasks(ctx context.Context) ([]string, error) {
	values, err := s.distinct(ctx, "task", "")
	return asStrings(values), err
}

func (s *StatisticsService) Methods(ctx context.Context, task string) ([]string, error) {
	values, err := s.distinct(ctx, "method", "task = ?", task)
	return asStrings(values), err
}

func (s *StatisticsService) MethodIDs(ctx context.Context, task, method string) ([]int64, error) {
	values, err := s.distinct(ctx, "method_id", "task = ? AND method = ?", task, method)
	return asInt64s(values), err
}

func (s *StatisticsService) Datasets(ctx context.Context, task, method string, methodID int64) ([]string, error) {
	values, err := s.distinct(ctx, "data", "task = ? AND method = ? AND method_id = ?", task, method, methodID)
	return asStrings(values), err
}

func (s *StatisticsService) DatasetIDs(ctx context.Context, task, method string, methodID int64, data string) ([]int64, error) {
	values, err := s.distinct(ctx, "data_id", "task = ? AND method = ? AND method_id = ? AND data = ?",
		task, method, methodID, data)
	return asInt64s(values), err
}

// ResultStatistics 统计同一设置下所有 finished 实验的数值指标。
// 配置了缓存时，结果按数据版本号缓存；缓存读写失败只记录日志。
func (s *StatisticsService) ResultStatistics(ctx context.Context, setting entity.Setting) (*entity.ResultStatistics, error) {
	logger := serviceLogger().With("service", "StatisticsService", "method", "ResultStatistics")
	setting.Task = entity.NormalizeName(setting.Task)

	version, err := s.db.DataVersion(ctx)
	if err != nil {
		return nil, err
	}
	if cached, ok, err := s.cache.Get(ctx, s.db.Path, version, setting); err != nil {
		logger.Warn("read statistics cache failed", "error", err)
	} else if ok {
		logger.Debug("statistics cache hit", "task", setting.Task, "version", version)
		return cached, nil
	}

	statistics, err := s.compute(ctx, setting)
	if err != nil {
		logger.Error("compute statistics failed", "task", setting.Task, "error", err)
		return nil, err
	}
	if err := s.cache.Set(ctx, s.db.Path, version, statistics); err != nil {
		logger.Warn("write statistics cache failed", "error", err)
	}
	return statistics, nil
}

func (s *StatisticsService) compute(ctx context.Context, setting entity.Setting) (*entity.ResultStatistics, error) {
	statistics := &entity.ResultStatistics{Setting: setting, Metrics: []entity.MetricStatistics{}}

	results, err := s.db.Table(ctx, dao.ResultTableName(setting.Task))
	if errors.Is(err, dao.ErrNotFound) {
		return statistics, nil
	}
	if err != nil {
		return nil, err
	}
	if !s.db.HasTable(dao.ExperimentTableName) {
		return statistics, nil
	}

	columns, err := results.Columns(ctx)
	if err != nil {
		return nil, err
	}
	metrics := lo.Reject(columns, func(c string, _ int) bool {
		return c == "experiment_id" || entity.IsImageColumn(c)
	})
	if len(metrics) == 0 {
		return statistics, nil
	}

	where := fmt.Sprintf("experiment_id IN (SELECT id FROM %s WHERE task = ? AND method = ? AND method_id = ? "+
		"AND data = ? AND data_id = ? AND status = '%s')", entity.QuoteIdent(dao.ExperimentTableName), entity.StatusFinished)
	rs, err := results.SelectArgs(ctx, entity.SelectQuery{
		Columns: entity.QuoteIdents(metrics),
		Where:   entity.RawPredicate(where),
	}, setting.Task, setting.Method, setting.MethodID, setting.Data, setting.DataID)
	if err != nil {
		return nil, err
	}
	statistics.Records = rs.Len()

	for i, metric := range metrics {
		values := lo.FilterMap(rs.Rows, func(row []any, _ int) (float64, bool) {
			return numeric(row[i])
		})
		if len(values) == 0 {
			continue
		}
		statistics.Metrics = append(statistics.Metrics, describe(metric, values))
	}
	return statistics, nil
}

func numeric(v any) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}

// describe 计算样本统计量，只有一个样本时标准差为 0。
func describe(metric string, values []float64) entity.MetricStatistics {
	data := stats.Float64Data(values)
	m := entity.MetricStatistics{Metric: metric, Count: data.Len()}
	m.Mean, _ = stats.Mean(data)
	m.Median, _ = stats.Median(data)
	m.Min, _ = stats.Min(data)
	m.Max, _ = stats.Max(data)
	if data.Len() > 1 {
		m.Std, _ = stats.StandardDeviationSample(data)
	}
	return m
}
