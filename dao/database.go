package dao

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mr-SGXXX/pyerm/config"
	"github.com/Mr-SGXXX/pyerm/entity"
	"github.com/Mr-SGXXX/pyerm/infrastructure/db"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

// Relation 是可以被查询的表或视图。
type Relation interface {
	Name() string
	Columns(ctx context.Context) ([]string, error)
	Select(ctx context.Context, query entity.SelectQuery) (*entity.ResultSet, error)
}

// Database 持有唯一的数据库连接，并缓存表名与视图名。
// 缓存只在本对象执行建表/删表时更新；其他连接对同一文件的修改不会反映到缓存中。
// 名称缓存由 mu 保护，HTTP 服务的多个请求可以共享同一个 Database。
type Database struct {
	DB   *gorm.DB
	Path string

	mu         sync.RWMutex
	tableNames []string
	viewNames  []string
}

// OpenDatabase 打开 path 指向的数据库文件。
func OpenDatabase(ctx context.Context, path string) (*Database, error) {
	conn, err := db.Open(path, config.Current().DB.SQLLogLevel)
	if err != nil {
		return nil, err
	}
	database, err := NewDatabase(ctx, conn, path)
	if err != nil {
		_ = db.Close(conn)
		return nil, err
	}
	return database, nil
}

// NewDatabase 包装一个已经打开的连接，并读取当前的表名与视图名。
func NewDatabase(ctx context.Context, conn *gorm.DB, path string) (*Database, error) {
	logger := daoLogger().With("dao", "Database", "method", "NewDatabase")
	if conn == nil {
		return nil, ErrDBNotInitialized
	}
	d := &Database{DB: conn, Path: path}
	if err := d.refreshNames(ctx); err != nil {
		logger.Error("load table names failed", "path", path, "error", err)
		return nil, err
	}
	logger.Debug("database opened", "path", path, "tables", len(d.tableNames), "views", len(d.viewNames))
	return d, nil
}

func (d *Database) refreshNames(ctx context.Context) error {
	const q = "SELECT name FROM sqlite_master WHERE type = ? AND name NOT LIKE 'sqlite_%'"

	tables, err := d.query(ctx, q, "table")
	if err != nil {
		return fmt.Errorf("list tables failed: %w", err)
	}
	views, err := d.query(ctx, q, "view")
	if err != nil {
		return fmt.Errorf("list views failed: %w", err)
	}
	d.mu.Lock()
	d.tableNames = firstColumnStrings(tables)
	d.viewNames = firstColumnStrings(views)
	d.mu.Unlock()
	return nil
}

func firstColumnStrings(rs *entity.ResultSet) []string {
	names := make([]string, 0, rs.Len())
	for _, row := range rs.Rows {
		if len(row) == 0 {
			continue
		}
		names = append(names, fmt.Sprint(row[0]))
	}
	return names
}

func (d *Database) HasTable(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return lo.Contains(d.tableNames, entity.NormalizeName(name))
}

func (d *Database) HasView(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return lo.Contains(d.viewNames, entity.NormalizeName(name))
}

// TableNames 返回缓存的表名（副本）。
func (d *Database) TableNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.tableNames...)
}

// ViewNames 返回缓存的视图名（副本）。
func (d *Database) ViewNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.viewNames...)
}

func (d *Database) TableCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.tableNames)
}

// Lookup 按名称返回表或视图，两者都不存在时返回 ErrNotFound。
func (d *Database) Lookup(ctx context.Context, name string) (Relation, error) {
	name = entity.NormalizeName(name)
	switch {
	case d.HasTable(name):
		return OpenTable(ctx, d, name, nil)
	case d.HasView(name):
		return OpenView(ctx, d, name, "")
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
}

// Table 按名称返回已存在的表。
func (d *Database) Table(ctx context.Context, name string) (*Table, error) {
	name = entity.NormalizeName(name)
	if !d.HasTable(name) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return OpenTable(ctx, d, name, nil)
}

// Drop 删除表或视图：先从缓存移除，再在引擎中删除。
func (d *Database) Drop(ctx context.Context, name string) error {
	logger := daoLogger().With("dao", "Database", "method", "Drop")
	name = entity.NormalizeName(name)

	var stmt string
	d.mu.Lock()
	switch {
	case lo.Contains(d.tableNames, name):
		d.tableNames = lo.Without(d.tableNames, name)
		stmt = "DROP TABLE IF EXISTS " + quote(name)
	case lo.Contains(d.viewNames, name):
		d.viewNames = lo.Without(d.viewNames, name)
		stmt = "DROP VIEW IF EXISTS " + quote(name)
	}
	d.mu.Unlock()
	if stmt == "" {
		logger.Warn("drop skipped: name not found", "name", name)
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if _, err := d.exec(ctx, stmt); err != nil {
		logger.Error("drop failed", "name", name, "error", err)
		return fmt.Errorf("drop %s failed: %w", name, err)
	}
	logger.Info("drop success", "name", name)
	return nil
}

// DataVersion 返回一个单调递增的数据版本号。
// 它由 PRAGMA data_version（其他连接的提交）与 total_changes()（本连接的写入）相加得到，
// 在同一个 Database 的生命周期内只增不减。
func (d *Database) DataVersion(ctx context.Context) (int64, error) {
	rs, err := d.query(ctx, "PRAGMA data_version")
	if err != nil {
		return 0, fmt.Errorf("read data_version failed: %w", err)
	}
	external := firstInt(rs)

	rs, err = d.query(ctx, "SELECT total_changes()")
	if err != nil {
		return 0, fmt.Errorf("read total_changes failed: %w", err)
	}
	return external + firstInt(rs), nil
}

// CreateSQL 返回表或视图在 sqlite_master 中记录的建表语句。
func (d *Database) CreateSQL(ctx context.Context, name string) (string, error) {
	rs, err := d.query(ctx, "SELECT sql FROM sqlite_master WHERE name = ?", entity.NormalizeName(name))
	if err != nil {
		return "", fmt.Errorf("read create sql of %s failed: %w", name, err)
	}
	if rs.Len() == 0 || rs.Rows[0][0] == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return fmt.Sprint(rs.Rows[0][0]), nil
}

// CreateTableFromSQL 执行一条完整的 CREATE TABLE 语句并登记表名。
func (d *Database) CreateTableFromSQL(ctx context.Context, name, stmt string) error {
	name = entity.NormalizeName(name)
	if d.HasTable(name) {
		return nil
	}
	if _, err := d.exec(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s failed: %w", name, err)
	}
	d.addTableName(name)
	daoLogger().With("dao", "Database", "method", "CreateTableFromSQL").Info("table created", "table", name)
	return nil
}

// Snapshot 用 VACUUM INTO 把当前数据库写成一个一致的副本文件，目标文件必须不存在。
func (d *Database) Snapshot(ctx context.Context, target string) error {
	if _, err := d.exec(ctx, "VACUUM INTO ?", target); err != nil {
		return fmt.Errorf("snapshot %s to %s failed: %w", d.Path, target, err)
	}
	return nil
}

func firstInt(rs *entity.ResultSet) int64 {
	if rs.Len() == 0 || len(rs.Rows[0]) == 0 {
		return 0
	}
	v, _ := toInt64(rs.Rows[0][0])
	return v
}

// Close 关闭底层连接。
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	return db.Close(d.DB)
}

func (d *Database) addTableName(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !lo.Contains(d.tableNames, name) {
		d.tableNames = append(d.tableNames, name)
	}
}

func (d *Database) addViewName(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !lo.Contains(d.viewNames, name) {
		d.viewNames = append(d.viewNames, name)
	}
}

// query 执行查询并把所有行读入内存。
func (d *Database) query(ctx context.Context, sql string, args ...any) (*entity.ResultSet, error) {
	conn, err := withContext(d.DB, ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.Raw(sql, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := &entity.ResultSet{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rs.Rows = append(rs.Rows, values)
	}
	return rs, rows.Err()
}

// exec 执行一条写语句并返回受影响行数，语句自动提交。
func (d *Database) exec(ctx context.Context, sql string, args ...any) (int64, error) {
	conn, err := withContext(d.DB, ctx)
	if err != nil {
		return 0, err
	}
	result := conn.Exec(sql, args...)
	if result.Error != nil {
		return 0, translateError(result.Error)
	}
	return result.RowsAffected, nil
}

func toInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case float64:
		return int64(val), true
	case []byte:
		var n int64
		_, err := fmt.Sscan(string(val), &n)
		return n, err == nil
	case string:
		var n int64
		_, err := fmt.Sscan(val, &n)
		return n, err == nil
	default:
		return 0, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case float64:
		return val, true
	case int:
		return float64(val), true
	default:
		return 0, false
	}
}
