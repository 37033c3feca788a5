package dao

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Mr-SGXXX/pyerm/entity"

	"github.com/samber/lo"
)

// Table 封装一张 SQLite 表。
// 列名与主键在第一次访问时读取并缓存，AddColumn 会让列缓存失效。
type Table struct {
	db   *Database
	name string

	columns    []string
	primaryKey []string
}

type tableColumnInfo struct {
	Name   string
	Type   string
	Pk     int64
	Hidden int64
}

// OpenTable 打开名为 name 的表。
// 表不存在时必须提供 schema 并据此建表，否则返回 ErrMissingSchema；
// 表已存在且提供了 schema 时，除图片列和计算列外的列集合必须与现有表完全一致，否则返回 ErrSchemaMismatch。
func OpenTable(ctx context.Context, database *Database, name string, schema entity.Schema) (*Table, error) {
	logger := daoLogger().With("dao", "Table", "method", "OpenTable")
	if database == nil {
		return nil, ErrDBNotInitialized
	}
	name = entity.NormalizeName(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	t := &Table{db: database, name: name}

	if !database.HasTable(name) {
		if len(schema) == 0 {
			logger.Warn("open table failed: missing schema", "table", name)
			return nil, fmt.Errorf("%w: %s", ErrMissingSchema, name)
		}
		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(name), schema.SQL())
		if _, err := database.exec(ctx, stmt); err != nil {
			logger.Error("create table failed", "table", name, "error", err)
			return nil, fmt.Errorf("create table %s failed: %w", name, err)
		}
		database.addTableName(name)
		logger.Info("table created", "table", name, "columns", len(schema))
		return t, nil
	}

	if schema != nil {
		if err := t.validate(ctx, schema); err != nil {
			logger.Warn("open table failed: schema mismatch", "table", name, "error", err)
			return nil, err
		}
	}
	logger.Debug("table opened", "table", name)
	return t, nil
}

func (t *Table) validate(ctx context.Context, schema entity.Schema) error {
	infos, err := t.tableInfo(ctx)
	if err != nil {
		return err
	}
	existing := lo.FilterMap(infos, func(c tableColumnInfo, _ int) (string, bool) {
		return c.Name, c.Hidden == 0 && !entity.IsImageColumn(c.Name)
	})
	declared := lo.FilterMap(schema, func(c entity.ColumnDef, _ int) (string, bool) {
		name := entity.NormalizeName(c.Name)
		return name, !c.Virtual() && !entity.IsImageColumn(name)
	})

	sort.Strings(existing)
	sort.Strings(declared)
	if strings.Join(existing, ",") != strings.Join(lo.Uniq(declared), ",") {
		return fmt.Errorf("%w: table %s has %v, declared %v", ErrSchemaMismatch, t.name, existing, declared)
	}
	return nil
}

func (t *Table) Name() string {
	return t.name
}

// Insert 插入一行并返回新行的 rowid，值全部通过参数绑定。
func (t *Table) Insert(ctx context.Context, values entity.Params) (int64, error) {
	logger := daoLogger().With("dao", "Table", "method", "Insert", "table", t.name)
	columns, err := t.Columns(ctx)
	if err != nil {
		return 0, err
	}
	if len(values) > len(columns) {
		logger.Warn("insert failed: too many columns", "given", len(values), "columns", len(columns))
		return 0, fmt.Errorf("%w: %s has %d columns, got %d", ErrTooManyColumns, t.name, len(columns), len(values))
	}

	var stmt string
	if len(values) == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING rowid", quote(t.name))
	} else {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING rowid",
			quote(t.name), quoteAll(values.Keys()), placeholders)
	}

	rs, err := t.db.query(ctx, stmt, values.Args()...)
	if err != nil {
		err = translateError(err)
		logger.Error("insert failed", "error", err)
		return 0, fmt.Errorf("insert into %s failed: %w", t.name, err)
	}
	id := firstInt(rs)
	logger.Debug("insert success", "rowid", id)
	return id, nil
}

// Update 按原生条件更新，where 为空时更新全表，返回受影响行数。
func (t *Table) Update(ctx context.Context, where entity.RawPredicate, values entity.Params) (int64, error) {
	logger := daoLogger().With("dao", "Table", "method", "Update", "table", t.name)
	if len(values) == 0 {
		return 0, ErrEmptyParams
	}
	sets := lo.Map(values.Keys(), func(k string, _ int) string {
		return quote(k) + " = ?"
	})
	stmt := fmt.Sprintf("UPDATE %s SET %s", quote(t.name), strings.Join(sets, ", "))
	if where != "" {
		stmt += " WHERE " + string(where)
	}

	affected, err := t.db.exec(ctx, stmt, values.Args()...)
	if err != nil {
		logger.Error("update failed", "where", string(where), "error", err)
		return 0, fmt.Errorf("update %s failed: %w", t.name, err)
	}
	logger.Debug("update success", "where", string(where), "affected", affected)
	return affected, nil
}

// Delete 按原生条件删除行，返回受影响行数。
func (t *Table) Delete(ctx context.Context, where entity.RawPredicate) (int64, error) {
	logger := daoLogger().With("dao", "Table", "method", "Delete", "table", t.name)
	stmt := "DELETE FROM " + quote(t.name)
	if where != "" {
		stmt += " WHERE " + string(where)
	}
	affected, err := t.db.exec(ctx, stmt)
	if err != nil {
		logger.Error("delete failed", "where", string(where), "error", err)
		return 0, fmt.Errorf("delete from %s failed: %w", t.name, err)
	}
	logger.Info("delete success", "where", string(where), "affected", affected)
	return affected, nil
}

// Select 查询表中的行。列为空时返回全部列，Other 原样追加在末尾。
func (t *Table) Select(ctx context.Context, query entity.SelectQuery) (*entity.ResultSet, error) {
	rs, err := selectFrom(ctx, t.db, t.name, query)
	if err != nil {
		return nil, fmt.Errorf("select from %s failed: %w", t.name, err)
	}
	return rs, nil
}

// SelectArgs 与 Select 相同，但 where 中的 ? 占位符按 args 绑定。
func (t *Table) SelectArgs(ctx context.Context, query entity.SelectQuery, args ...any) (*entity.ResultSet, error) {
	rs, err := selectFrom(ctx, t.db, t.name, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select from %s failed: %w", t.name, err)
	}
	return rs, nil
}

func selectFrom(ctx context.Context, database *Database, name string, query entity.SelectQuery, args ...any) (*entity.ResultSet, error) {
	cols := "*"
	if len(query.Columns) > 0 {
		cols = strings.Join(lo.Map(query.Columns, func(c string, _ int) string {
			return entity.NormalizeName(c)
		}), ", ")
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s", cols, quote(name))
	if query.Where != "" {
		stmt += " WHERE " + string(query.Where)
	}
	if query.Other != "" {
		stmt += " " + string(query.Other)
	}
	return database.query(ctx, stmt, args...)
}

// Count 返回表的行数。
func (t *Table) Count(ctx context.Context) (int64, error) {
	rs, err := t.db.query(ctx, "SELECT COUNT(*) FROM "+quote(t.name))
	if err != nil {
		return 0, fmt.Errorf("count %s failed: %w", t.name, err)
	}
	return firstInt(rs), nil
}

// AddColumn 为表增加一列，已有行在该列上为 NULL。
func (t *Table) AddColumn(ctx context.Context, name, definition string) error {
	logger := daoLogger().With("dao", "Table", "method", "AddColumn", "table", t.name)
	name = entity.NormalizeName(name)
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quote(t.name), quote(name), definition)
	if _, err := t.db.exec(ctx, stmt); err != nil {
		logger.Error("add column failed", "column", name, "error", err)
		return fmt.Errorf("add column %s to %s failed: %w", name, t.name, err)
	}
	t.columns = nil
	logger.Info("column added", "column", name, "definition", definition)
	return nil
}

// Columns 返回全部列名（含计算列），结果会被缓存。
func (t *Table) Columns(ctx context.Context) ([]string, error) {
	if t.columns != nil {
		return t.columns, nil
	}
	rs, err := t.db.query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 0", quote(t.name)))
	if err != nil {
		return nil, fmt.Errorf("read columns of %s failed: %w", t.name, err)
	}
	t.columns = rs.Columns
	return t.columns, nil
}

// HasColumn 判断列是否存在。
func (t *Table) HasColumn(ctx context.Context, name string) (bool, error) {
	columns, err := t.Columns(ctx)
	if err != nil {
		return false, err
	}
	return lo.Contains(columns, entity.NormalizeName(name)), nil
}

// PrimaryKey 返回主键列名，结果会被缓存。
func (t *Table) PrimaryKey(ctx context.Context) ([]string, error) {
	if t.primaryKey != nil {
		return t.primaryKey, nil
	}
	infos, err := t.tableInfo(ctx)
	if err != nil {
		return nil, err
	}
	t.primaryKey = lo.FilterMap(infos, func(c tableColumnInfo, _ int) (string, bool) {
		return c.Name, c.Pk > 0
	})
	return t.primaryKey, nil
}

// tableInfo 读取 PRAGMA table_xinfo，hidden 非 0 的是计算列。
func (t *Table) tableInfo(ctx context.Context) ([]tableColumnInfo, error) {
	rs, err := t.db.query(ctx, fmt.Sprintf("PRAGMA table_xinfo(%s)", quote(t.name)))
	if err != nil {
		return nil, fmt.Errorf("read table info of %s failed: %w", t.name, err)
	}
	infos := make([]tableColumnInfo, 0, rs.Len())
	for i := range rs.Rows {
		name, _ := rs.Value(i, "name")
		typ, _ := rs.Value(i, "type")
		pk, _ := rs.Value(i, "pk")
		hidden, _ := rs.Value(i, "hidden")
		info := tableColumnInfo{Name: fmt.Sprint(name), Type: fmt.Sprint(typ)}
		info.Pk, _ = toInt64(pk)
		info.Hidden, _ = toInt64(hidden)
		infos = append(infos, info)
	}
	return infos, nil
}

// StoredColumns 返回可写入的列：排除计算列，excludePK 为 true 时同时排除主键列。
func (t *Table) StoredColumns(ctx context.Context, excludePK bool) ([]string, error) {
	infos, err := t.tableInfo(ctx)
	if err != nil {
		return nil, err
	}
	return lo.FilterMap(infos, func(c tableColumnInfo, _ int) (string, bool) {
		return c.Name, c.Hidden == 0 && !(excludePK && c.Pk > 0)
	}), nil
}

// ColumnTypes 返回列名到声明类型的映射。
func (t *Table) ColumnTypes(ctx context.Context) (map[string]string, error) {
	infos, err := t.tableInfo(ctx)
	if err != nil {
		return nil, err
	}
	return lo.SliceToMap(infos, func(c tableColumnInfo) (string, string) {
		return c.Name, c.Type
	}), nil
}
