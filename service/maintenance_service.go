package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mr-SGXXX/pyerm/dao"
	"github.com/Mr-SGXXX/pyerm/entity"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
)

// MaintenanceService 提供显式的清理操作，领域表只会在这里被删除。
type MaintenanceService struct {
	db *dao.Database
}

func NewMaintenanceService(database *dao.Database) *MaintenanceService {
	return &MaintenanceService{db: database}
}

// DeleteExperiment 删除一次实验：台账行、结果行以及它的明细表。
func (s *MaintenanceService) DeleteExperiment(ctx context.Context, id int64) error {
	logger := serviceLogger().With("service", "MaintenanceService", "method", "DeleteExperiment")
	experiments, err := dao.NewExperimentDAO(ctx, s.db)
	if err != nil {
		return err
	}
	exp, err := experiments.FindByID(ctx, id)
	if err != nil {
		logger.Warn("delete experiment failed: load", "id", id, "error", err)
		return err
	}
	if err := s.deleteRun(ctx, experiments, exp.ID, exp.Task); err != nil {
		logger.Error("delete experiment failed", "id", id, "error", err)
		return err
	}
	logger.Info("experiment deleted", "id", id, "task", exp.Task)
	return nil
}

func (s *MaintenanceService) deleteRun(ctx context.Context, experiments *dao.ExperimentDAO, id int64, task string) error {
	var result *multierror.Error
	if s.db.HasTable(dao.ResultTableName(task)) {
		table, err := s.db.Table(ctx, dao.ResultTableName(task))
		if err == nil {
			_, err = table.Delete(ctx, entity.RawPredicate(fmt.Sprintf("experiment_id = %d", id)))
		}
		result = multierror.Append(result, err)
	}
	if s.db.HasTable(dao.DetailTableName(id)) {
		result = multierror.Append(result, s.db.Drop(ctx, dao.DetailTableName(id)))
	}
	if err := experiments.DeleteByID(ctx, id); err != nil && !errors.Is(err, dao.ErrRecordNotFound) {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// DeleteFailedExperiments 删除所有 failed 实验及其结果与明细，返回删除的实验数。
// 单个实验删除失败不会中断其余实验，所有错误合并返回。
func (s *MaintenanceService) DeleteFailedExperiments(ctx context.Context) (int, error) {
	logger := serviceLogger().With("service", "MaintenanceService", "method", "DeleteFailedExperiments")
	if !s.db.HasTable(dao.ExperimentTableName) {
		return 0, nil
	}
	experiments, err := dao.NewExperimentDAO(ctx, s.db)
	if err != nil {
		return 0, err
	}
	failed, err := experiments.FindAll(ctx, entity.RawPredicate(fmt.Sprintf("status = '%s'", entity.StatusFailed)), "ORDER BY id")
	if err != nil {
		return 0, err
	}

	var result *multierror.Error
	deleted := 0
	for _, exp := range failed {
		if err := s.deleteRun(ctx, experiments, exp.ID, exp.Task); err != nil {
			result = multierror.Append(result, fmt.Errorf("experiment %d: %w", exp.ID, err))
			continue
		}
		deleted++
	}
	logger.Info("failed experiments deleted", "deleted", deleted, "found", len(failed))
	return deleted, result.ErrorOrNil()
}

// DeleteUselessImages 清空结果表中已不存在或未成功结束的实验所占用的图片槽位，返回受影响的行数。
// 槽位列本身保留。
func (s *MaintenanceService) DeleteUselessImages(ctx context.Context, task string) (int64, error) {
	logger := serviceLogger().With("service", "MaintenanceService", "method", "DeleteUselessImages")
	table, err := s.db.Table(ctx, dao.ResultTableName(task))
	if err != nil {
		return 0, err
	}
	columns, err := table.Columns(ctx)
	if err != nil {
		return 0, err
	}
	imageColumns := lo.Filter(columns, func(c string, _ int) bool {
		return entity.IsImageColumn(c)
	})
	if len(imageColumns) == 0 {
		return 0, nil
	}

	cleared := make(entity.Params, 0, len(imageColumns))
	for _, c := range imageColumns {
		cleared = append(cleared, entity.Param{Key: c, Value: entity.Null()})
	}
	where := fmt.Sprintf("experiment_id NOT IN (SELECT id FROM %s WHERE status = '%s')",
		entity.QuoteIdent(dao.ExperimentTableName), entity.StatusFinished)
	if !s.db.HasTable(dao.ExperimentTableName) {
		where = ""
	}
	affected, err := table.Update(ctx, entity.RawPredicate(where), cleared)
	if err != nil {
		logger.Error("clear images failed", "task", task, "error", err)
		return 0, err
	}
	logger.Info("useless images cleared", "task", task, "rows", affected)
	return affected, nil
}
