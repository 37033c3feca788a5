package dao

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"regexp"
	"strconv"

	"github.com/Mr-SGXXX/pyerm/entity"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

const resultIDColumn = "experiment_id"

var imageSlotPattern = regexp.MustCompile(`^image_(\d+)(_name)?$`)

// ResultTableName 返回任务对应的结果表名。
func ResultTableName(task string) string {
	return "result_" + entity.NormalizeName(task)
}

// ImageNameColumn 返回第 i 个图片槽位的名称列。
func ImageNameColumn(i int) string {
	return fmt.Sprintf("image_%d_name", i)
}

// ImageDataColumn 返回第 i 个图片槽位的数据列。
func ImageDataColumn(i int) string {
	return fmt.Sprintf("image_%d", i)
}

func imageSlotSchema(i int) entity.Schema {
	return entity.Schema{
		{Name: ImageNameColumn(i), Definition: "TEXT DEFAULT NULL"},
		{Name: ImageDataColumn(i), Definition: "BLOB DEFAULT NULL"},
	}
}

// ResultDAO 管理 result_<task> 表：每个实验一行，指标列按需增加，图片槽位只增不减。
type ResultDAO struct {
	table         *Table
	maxImageIndex int
}

// OpenResultDAO 打开结果表，不存在时按 metrics 推断列类型建表，并预留 defaultImageSlots 个图片槽位。
func OpenResultDAO(ctx context.Context, database *Database, task string, metrics entity.Params, defaultImageSlots int) (*ResultDAO, error) {
	logger := daoLogger().With("dao", "ResultDAO", "method", "OpenResultDAO")
	tableName := ResultTableName(task)
	if tableName == "result_" {
		return nil, ErrInvalidName
	}

	var schema entity.Schema
	if database != nil && !database.HasTable(tableName) && metrics != nil {
		schema = append(entity.Schema{{Name: resultIDColumn, Definition: "INTEGER PRIMARY KEY AUTOINCREMENT"}},
			entity.InferSchema(lo.Reject(metrics, func(p entity.Param, _ int) bool {
				return p.Key == resultIDColumn
			}))...)
		for i := 0; i < defaultImageSlots; i++ {
			schema = append(schema, imageSlotSchema(i)...)
		}
	}
	table, err := OpenTable(ctx, database, tableName, schema)
	if err != nil {
		logger.Warn("open result table failed", "table", tableName, "error", err)
		return nil, err
	}

	d := &ResultDAO{table: table, maxImageIndex: -1}
	columns, err := table.Columns(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range columns {
		m := imageSlotPattern.FindStringSubmatch(c)
		if m == nil {
			continue
		}
		i, _ := strconv.Atoi(m[1])
		d.maxImageIndex = max(d.maxImageIndex, i)
	}
	return d, nil
}

func (d *ResultDAO) Table() *Table {
	return d.table
}

// ImageSlots 返回已分配的图片槽位数量。
func (d *ResultDAO) ImageSlots() int {
	return d.maxImageIndex + 1
}

// NonImageColumns 返回除图片槽位以外的列（含 experiment_id）。
func (d *ResultDAO) NonImageColumns(ctx context.Context) ([]string, error) {
	columns, err := d.table.Columns(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Reject(columns, func(c string, _ int) bool {
		return entity.IsImageColumn(c)
	}), nil
}

// RecordResult 为未见过的指标加列，然后插入该实验的结果行。
func (d *ResultDAO) RecordResult(ctx context.Context, experimentID int64, metrics entity.Params) error {
	logger := daoLogger().With("dao", "ResultDAO", "method", "RecordResult", "table", d.table.Name())
	if experimentID <= 0 {
		return ErrInvalidID
	}
	metrics = lo.Reject(metrics, func(p entity.Param, _ int) bool {
		return p.Key == resultIDColumn
	})
	for _, p := range metrics {
		ok, err := d.table.HasColumn(ctx, p.Key)
		if err != nil {
			return err
		}
		if !ok {
			if err := d.table.AddColumn(ctx, p.Key, p.Value.Type.Definition(p.Key)); err != nil {
				return err
			}
		}
	}

	values := append(entity.Params{{Key: resultIDColumn, Value: integer(experimentID)}}, metrics...)
	if _, err := d.table.Insert(ctx, values); err != nil {
		logger.Error("record result failed", "experiment_id", experimentID, "error", err)
		return err
	}
	logger.Info("result recorded", "experiment_id", experimentID, "metrics", metrics.Keys())
	return nil
}

// RecordImages 按位置把图片写入槽位 0,1,2...，位置超出已有槽位时新增槽位。
// 名称和数据分两次更新写入。
func (d *ResultDAO) RecordImages(ctx context.Context, experimentID int64, images entity.Images) error {
	logger := daoLogger().With("dao", "ResultDAO", "method", "RecordImages", "table", d.table.Name())
	if experimentID <= 0 {
		return ErrInvalidID
	}
	where := entity.RawPredicate(fmt.Sprintf("%s = %d", quote(resultIDColumn), experimentID))

	for i, img := range images {
		for i > d.maxImageIndex {
			next := d.maxImageIndex + 1
			for _, c := range imageSlotSchema(next) {
				if err := d.table.AddColumn(ctx, c.Name, c.Definition); err != nil {
					return err
				}
			}
			d.maxImageIndex = next
		}

		data, err := encodeImage(img)
		if err != nil {
			logger.Error("encode image failed", "experiment_id", experimentID, "image", img.Name, "error", err)
			return err
		}

		affected, err := d.table.Update(ctx, where, entity.Params{{Key: ImageNameColumn(i), Value: text(img.Name)}})
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("result of experiment %d: %w", experimentID, gorm.ErrRecordNotFound)
		}
		blob := entity.Value{Type: entity.ColumnTypeBlob, Raw: data}
		if _, err := d.table.Update(ctx, where, entity.Params{{Key: ImageDataColumn(i), Value: blob}}); err != nil {
			return err
		}
		logger.Debug("image recorded", "experiment_id", experimentID, "slot", i, "image", img.Name, "bytes", len(data))
	}
	return nil
}

func encodeImage(img entity.ImageEntry) ([]byte, error) {
	switch {
	case img.Image != nil:
		var buf bytes.Buffer
		if err := png.Encode(&buf, img.Image); err != nil {
			return nil, fmt.Errorf("encode image %s as png: %w", img.Name, err)
		}
		return buf.Bytes(), nil
	case img.Path != "":
		data, err := os.ReadFile(img.Path)
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", img.Name, err)
		}
		return data, nil
	default:
		return img.Bytes, nil
	}
}

// FindByExperimentID 读取一行结果，拆分为指标和图片。
func (d *ResultDAO) FindByExperimentID(ctx context.Context, experimentID int64) (*entity.ResultRecord, error) {
	if experimentID <= 0 {
		return nil, ErrInvalidID
	}
	rs, err := d.table.SelectArgs(ctx, entity.SelectQuery{
		Where: entity.RawPredicate(quote(resultIDColumn) + " = ?"),
	}, experimentID)
	if err != nil {
		return nil, err
	}
	records := rs.Records()
	if len(records) == 0 {
		return nil, fmt.Errorf("result of experiment %d: %w", experimentID, gorm.ErrRecordNotFound)
	}
	return SplitResultRow(records[0]), nil
}

// SplitResultRow 把结果行拆分为指标与 名称->图片字节 的映射，空槽位被忽略。
func SplitResultRow(row map[string]any) *entity.ResultRecord {
	record := &entity.ResultRecord{Metrics: map[string]any{}, Images: map[string][]byte{}}
	if id, ok := toInt64(row[resultIDColumn]); ok {
		record.ExperimentID = id
	}
	for i := 0; ; i++ {
		name, ok := row[ImageNameColumn(i)]
		if !ok {
			break
		}
		if name == nil {
			continue
		}
		key := toString(name)
		data, _ := row[ImageDataColumn(i)].([]byte)
		record.Images[key] = data
		record.ImageNames = append(record.ImageNames, key)
	}
	for k, v := range row {
		if k == resultIDColumn || entity.IsImageColumn(k) {
			continue
		}
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		record.Metrics[k] = v
	}
	return record
}

func toString(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}
