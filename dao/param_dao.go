package dao

import (
	"context"
	"fmt"
	"strings"

	"github.com/Mr-SGXXX/pyerm/entity"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

// ParamKind 区分方法参数表与数据参数表。
type ParamKind string

const (
	ParamKindMethod ParamKind = "method"
	ParamKindData   ParamKind = "data"
)

// TableName 返回 <kind>_<name>。
func (k ParamKind) TableName(name string) string {
	return string(k) + "_" + entity.NormalizeName(name)
}

// IDColumn 返回主键列名 <kind>_id。
func (k ParamKind) IDColumn() string {
	return string(k) + "_id"
}

// ParamDAO 管理按值去重的参数表：相同的参数组合总是得到同一个 id。
type ParamDAO struct {
	kind  ParamKind
	table *Table
}

// OpenParamDAO 打开参数表，不存在时按 params 推断列类型建表。
func OpenParamDAO(ctx context.Context, database *Database, kind ParamKind, name string, params entity.Params) (*ParamDAO, error) {
	logger := daoLogger().With("dao", "ParamDAO", "method", "OpenParamDAO")
	if kind != ParamKindMethod && kind != ParamKindData {
		return nil, fmt.Errorf("unknown param kind %q", kind)
	}
	tableName := kind.TableName(name)
	if tableName == string(kind)+"_" {
		return nil, ErrInvalidName
	}

	var schema entity.Schema
	if database != nil && !database.HasTable(tableName) && params != nil {
		schema = append(entity.Schema{
			{Name: kind.IDColumn(), Definition: "INTEGER PRIMARY KEY AUTOINCREMENT"},
			{Name: "remark", Definition: "TEXT DEFAULT NULL UNIQUE"},
		}, entity.InferSchema(params)...)
	}
	table, err := OpenTable(ctx, database, tableName, schema)
	if err != nil {
		logger.Warn("open param table failed", "table", tableName, "error", err)
		return nil, err
	}
	return &ParamDAO{kind: kind, table: table}, nil
}

func (d *ParamDAO) Table() *Table {
	return d.table
}

func (d *ParamDAO) IDColumn() string {
	return d.kind.IDColumn()
}

// Insert 先为未见过的键加列，再在所有给定键上做空值安全的等值查找；
// 命中则返回已有 id，否则插入新行。只有部分键相同的行不算命中。
func (d *ParamDAO) Insert(ctx context.Context, params entity.Params) (int64, error) {
	logger := daoLogger().With("dao", "ParamDAO", "method", "Insert", "table", d.table.Name())
	if len(params) == 0 {
		return 0, ErrEmptyParams
	}

	if err := d.widen(ctx, params); err != nil {
		return 0, err
	}

	conditions := lo.Map(params.Keys(), func(k string, _ int) string {
		return quote(k) + " IS ?"
	})
	rs, err := d.table.SelectArgs(ctx, entity.SelectQuery{
		Columns: []string{d.IDColumn()},
		Where:   entity.RawPredicate(strings.Join(conditions, " AND ")),
		Other:   entity.RawClause("ORDER BY " + quote(d.IDColumn()) + " LIMIT 1"),
	}, params.Args()...)
	if err != nil {
		logger.Error("dedup lookup failed", "error", err)
		return 0, err
	}
	if rs.Len() > 0 {
		id := firstInt(rs)
		logger.Debug("params already recorded", "id", id)
		return id, nil
	}

	id, err := d.table.Insert(ctx, params)
	if err != nil {
		return 0, err
	}
	logger.Info("params recorded", "id", id, "keys", params.Keys())
	return id, nil
}

func (d *ParamDAO) widen(ctx context.Context, params entity.Params) error {
	for _, p := range params {
		ok, err := d.table.HasColumn(ctx, p.Key)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if err := d.table.AddColumn(ctx, p.Key, p.Value.Type.Definition(p.Key)); err != nil {
			return err
		}
	}
	return nil
}

// FindByID 返回某个 id 对应的参数（含 remark），不存在时返回 gorm.ErrRecordNotFound。
func (d *ParamDAO) FindByID(ctx context.Context, id int64) (map[string]any, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	rs, err := d.table.SelectArgs(ctx, entity.SelectQuery{
		Where: entity.RawPredicate(quote(d.IDColumn()) + " = ?"),
	}, id)
	if err != nil {
		return nil, err
	}
	records := rs.Records()
	if len(records) == 0 {
		return nil, fmt.Errorf("%s %d: %w", d.table.Name(), id, gorm.ErrRecordNotFound)
	}
	return records[0], nil
}

// SetRemark 设置参数组合的别名。
func (d *ParamDAO) SetRemark(ctx context.Context, id int64, remark string) error {
	return setRemark(ctx, d.table, d.IDColumn(), id, remark)
}
