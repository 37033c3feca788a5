package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/Mr-SGXXX/pyerm/entity"

	"github.com/samber/lo"
)

const detailRecordTimeColumn = "record_time"

// DetailTableName 返回实验对应的明细表名。
func DetailTableName(experimentID int64) string {
	return fmt.Sprintf("detail_%d", experimentID)
}

// DetailDAO 是单个实验的追加式明细日志，表结构由第一次写入的键决定。
type DetailDAO struct {
	table *Table
}

// OpenDetailDAO 打开 detail_<experimentID>，不存在时按 values 建表；已存在且 values 非 nil 时校验键集合。
func OpenDetailDAO(ctx context.Context, database *Database, experimentID int64, values entity.Params) (*DetailDAO, error) {
	if experimentID <= 0 {
		return nil, ErrInvalidID
	}
	var schema entity.Schema
	if values != nil {
		values = lo.Reject(values, func(p entity.Param, _ int) bool {
			return p.Key == "detail_id" || p.Key == detailRecordTimeColumn
		})
		schema = append(entity.Schema{{Name: "detail_id", Definition: "INTEGER PRIMARY KEY AUTOINCREMENT"}},
			entity.InferSchema(values)...)
		schema = append(schema, entity.ColumnDef{Name: detailRecordTimeColumn, Definition: "DATETIME DEFAULT CURRENT_TIMESTAMP"})
	}

	table, err := OpenTable(ctx, database, DetailTableName(experimentID), schema)
	if err != nil {
		daoLogger().With("dao", "DetailDAO", "method", "OpenDetailDAO").
			Warn("open detail table failed", "experiment_id", experimentID, "error", err)
		return nil, err
	}
	return &DetailDAO{table: table}, nil
}

func (d *DetailDAO) Table() *Table {
	return d.table
}

// Insert 追加一行明细，并以本地时间写入 record_time。
func (d *DetailDAO) Insert(ctx context.Context, values entity.Params) (int64, error) {
	row := values.Clone()
	row = lo.Reject(row, func(p entity.Param, _ int) bool {
		return p.Key == detailRecordTimeColumn
	})
	row = append(row, entity.Param{Key: detailRecordTimeColumn, Value: text(time.Now().Format(entity.TimeLayout))})
	id, err := d.table.Insert(ctx, row)
	if err != nil {
		daoLogger().With("dao", "DetailDAO", "method", "Insert", "table", d.table.Name()).
			Error("insert detail failed", "error", err)
		return 0, err
	}
	return id, nil
}

// FindAll 按写入顺序返回全部明细。
func (d *DetailDAO) FindAll(ctx context.Context) (*entity.ResultSet, error) {
	return d.table.Select(ctx, entity.SelectQuery{Other: "ORDER BY detail_id"})
}
