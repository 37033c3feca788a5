package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Mr-SGXXX/pyerm/dao"
	"github.com/Mr-SGXXX/pyerm/entity"

	"github.com/hashicorp/go-multierror"
)

// MergeReport 汇总一次合并。
type MergeReport struct {
	Tables  int `json:"tables"`
	Created int `json:"created"`
	Copied  int `json:"copied"`
	Skipped int `json:"skipped"`
}

// MergeDatabases 把 src 中每张表的行复制到 dst。
// dst 中缺少的表按 src 的建表语句创建；主键列不复制，由 dst 重新分配；
// 违反约束（如 remark、experiment_id 冲突）的行被跳过，其它错误合并返回。
// onTable 在每张表处理完后被调用，可以为 nil。
func MergeDatabases(ctx context.Context, dst, src *dao.Database, onTable func(name string)) (*MergeReport, error) {
	logger := serviceLogger().With("service", "MergeService", "method", "MergeDatabases")
	report := &MergeReport{}
	var result *multierror.Error

	for _, name := range src.TableNames() {
		if err := mergeTable(ctx, dst, src, name, report); err != nil {
			result = multierror.Append(result, fmt.Errorf("table %s: %w", name, err))
		}
		report.Tables++
		if onTable != nil {
			onTable(name)
		}
	}
	logger.Info("merge finished", "src", src.Path, "dst", dst.Path, "tables", report.Tables,
		"created", report.Created, "copied", report.Copied, "skipped", report.Skipped)
	return report, result.ErrorOrNil()
}

func mergeTable(ctx context.Context, dst, src *dao.Database, name string, report *MergeReport) error {
	if !dst.HasTable(name) {
		stmt, err := src.CreateSQL(ctx, name)
		if err != nil {
			return err
		}
		if err := dst.CreateTableFromSQL(ctx, name, stmt); err != nil {
			return err
		}
		report.Created++
	}

	srcTable, err := src.Table(ctx, name)
	if err != nil {
		return err
	}
	dstTable, err := dst.Table(ctx, name)
	if err != nil {
		return err
	}
	columns, err := srcTable.StoredColumns(ctx, true)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return nil
	}
	rs, err := srcTable.Select(ctx, entity.SelectQuery{Columns: entity.QuoteIdents(columns)})
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, row := range rs.Rows {
		values := make(entity.Params, len(columns))
		for i, c := range columns {
			values[i] = entity.Param{Key: c, Value: entity.Value{Raw: storedValue(row[i])}}
		}
		if _, err := dstTable.Insert(ctx, values); err != nil {
			if dao.IsConstraintError(err) {
				report.Skipped++
				continue
			}
			result = multierror.Append(result, err)
			continue
		}
		report.Copied++
	}
	return result.ErrorOrNil()
}

// storedValue 把驱动解析出的时间还原为库中使用的文本格式。
func storedValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format(entity.TimeLayout)
	}
	return v
}
