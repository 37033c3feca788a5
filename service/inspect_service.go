package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Mr-SGXXX/pyerm/dao"
	"github.com/Mr-SGXXX/pyerm/entity"
)

// RelationInfo 描述数据库中的一张表或一个视图。
type RelationInfo struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Columns []string `json:"columns"`
	// Types 是列的声明类型，只对表有值。
	Types map[string]string `json:"types,omitempty"`
}

// InspectService 提供只读浏览与别名修改，供 HTTP 接口和命令行使用。
type InspectService struct {
	db *dao.Database
}

func NewInspectService(database *dao.Database) *InspectService {
	return &InspectService{db: database}
}

// Relations 列出所有表和视图及其列。
func (s *InspectService) Relations(ctx context.Context) ([]RelationInfo, error) {
	var infos []RelationInfo
	add := func(kind string, names []string) error {
		for _, name := range names {
			relation, err := s.db.Lookup(ctx, name)
			if err != nil {
				return err
			}
			columns, err := relation.Columns(ctx)
			if err != nil {
				return err
			}
			info := RelationInfo{Name: name, Kind: kind, Columns: columns}
			if table, ok := relation.(*dao.Table); ok {
				if info.Types, err = table.ColumnTypes(ctx); err != nil {
					return err
				}
			}
			infos = append(infos, info)
		}
		return nil
	}
	if err := add("table", s.db.TableNames()); err != nil {
		return nil, err
	}
	if err := add("view", s.db.ViewNames()); err != nil {
		return nil, err
	}
	return infos, nil
}

// Query 查询任意表或视图。where/other 是受信任的原生 SQL 片段。
func (s *InspectService) Query(ctx context.Context, name string, query entity.SelectQuery) (*entity.ResultSet, error) {
	relation, err := s.db.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return relation.Select(ctx, query)
}

// ResolveExperimentID 把数字 id 或实验别名解析为实验 id。
func (s *InspectService) ResolveExperimentID(ctx context.Context, idOrRemark string) (int64, error) {
	idOrRemark = strings.TrimSpace(idOrRemark)
	if id, err := strconv.ParseInt(idOrRemark, 10, 64); err == nil {
		if id <= 0 {
			return 0, dao.ErrInvalidID
		}
		return id, nil
	}
	experiments, err := dao.NewExperimentDAO(ctx, s.db)
	if err != nil {
		return 0, err
	}
	exp, err := experiments.FindByRemark(ctx, idOrRemark)
	if err != nil {
		return 0, err
	}
	return exp.ID, nil
}

// ExperimentDetail 汇总一次实验：台账行、方法参数、数据参数、结果（仅 finished）与明细日志。
func (s *InspectService) ExperimentDetail(ctx context.Context, id int64) (*entity.ExperimentDetail, error) {
	logger := serviceLogger().With("service", "InspectService", "method", "ExperimentDetail")
	experiments, err := dao.NewExperimentDAO(ctx, s.db)
	if err != nil {
		return nil, err
	}
	exp, err := experiments.FindByID(ctx, id)
	if err != nil {
		logger.Warn("load experiment failed", "id", id, "error", err)
		return nil, err
	}
	detail := &entity.ExperimentDetail{Experiment: exp}

	if detail.Method, err = s.params(ctx, dao.ParamKindMethod, exp.Method, exp.MethodID); err != nil {
		return nil, err
	}
	if detail.Data, err = s.params(ctx, dao.ParamKindData, exp.Data, exp.DataID); err != nil {
		return nil, err
	}

	if exp.Status == entity.StatusFinished && s.db.HasTable(dao.ResultTableName(exp.Task)) {
		results, err := dao.OpenResultDAO(ctx, s.db, exp.Task, nil, 0)
		if err != nil {
			return nil, err
		}
		detail.Result, err = results.FindByExperimentID(ctx, id)
		if err != nil && !errors.Is(err, dao.ErrRecordNotFound) {
			return nil, err
		}
	}

	if s.db.HasTable(dao.DetailTableName(id)) {
		details, err := dao.OpenDetailDAO(ctx, s.db, id, nil)
		if err != nil {
			return nil, err
		}
		if detail.Details, err = details.FindAll(ctx); err != nil {
			return nil, err
		}
	}
	return detail, nil
}

func (s *InspectService) params(ctx context.Context, kind dao.ParamKind, name string, id int64) (map[string]any, error) {
	if id == entity.NoParamsID || !s.db.HasTable(kind.TableName(name)) {
		return nil, nil
	}
	paramDAO, err := dao.OpenParamDAO(ctx, s.db, kind, name, nil)
	if err != nil {
		return nil, err
	}
	row, err := paramDAO.FindByID(ctx, id)
	if errors.Is(err, dao.ErrRecordNotFound) {
		return nil, nil
	}
	return row, err
}

// SetRemark 修改实验、方法或数据行的别名。kind 为 experiment、method 或 data。
func (s *InspectService) SetRemark(ctx context.Context, kind, name string, id int64, remark string) error {
	switch kind {
	case "experiment":
		experiments, err := dao.NewExperimentDAO(ctx, s.db)
		if err != nil {
			return err
		}
		return experiments.SetRemark(ctx, id, remark)
	case string(dao.ParamKindMethod), string(dao.ParamKindData):
		paramDAO, err := dao.OpenParamDAO(ctx, s.db, dao.ParamKind(kind), name, nil)
		if err != nil {
			return err
		}
		return paramDAO.SetRemark(ctx, id, remark)
	default:
		return fmt.Errorf("unknown remark target %q", kind)
	}
}
