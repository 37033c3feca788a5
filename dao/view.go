package dao

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Mr-SGXXX/pyerm/entity"
)

var ErrMissingQuery = errors.New("query must be provided when creating a new view")

// View 封装一个只读视图。视图被视为临时对象：Close 会删除底层视图。
type View struct {
	db    *Database
	name  string
	query string
}

// OpenView 打开视图，不存在时用 query 创建。
func OpenView(ctx context.Context, database *Database, name, query string) (*View, error) {
	logger := daoLogger().With("dao", "View", "method", "OpenView")
	if database == nil {
		return nil, ErrDBNotInitialized
	}
	name = entity.NormalizeName(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	v := &View{db: database, name: name}

	if !database.HasView(name) {
		if strings.TrimSpace(query) == "" {
			logger.Warn("open view failed: missing query", "view", name)
			return nil, fmt.Errorf("%w: %s", ErrMissingQuery, name)
		}
		stmt := fmt.Sprintf("CREATE VIEW IF NOT EXISTS %s AS %s", quote(name), query)
		if _, err := database.exec(ctx, stmt); err != nil {
			logger.Error("create view failed", "view", name, "error", err)
			return nil, fmt.Errorf("create view %s failed: %w", name, err)
		}
		v.query = query
		database.addViewName(name)
		logger.Info("view created", "view", name)
		return v, nil
	}

	rs, err := database.query(ctx, "SELECT sql FROM sqlite_master WHERE type = 'view' AND name = ?", name)
	if err != nil {
		return nil, fmt.Errorf("read view %s failed: %w", name, err)
	}
	if rs.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	v.query = fmt.Sprint(rs.Rows[0][0])
	logger.Debug("view opened", "view", name)
	return v, nil
}

func (v *View) Name() string {
	return v.name
}

// Query 返回定义视图的 SQL。
func (v *View) Query() string {
	return v.query
}

// Select 查询视图。
func (v *View) Select(ctx context.Context, query entity.SelectQuery) (*entity.ResultSet, error) {
	rs, err := selectFrom(ctx, v.db, v.name, query)
	if err != nil {
		return nil, fmt.Errorf("select from view %s failed: %w", v.name, err)
	}
	return rs, nil
}

// Columns 从定义 SQL 中第一个 "SELECT " 与其后第一个 " FROM" 之间的文本解析列名。
// 含嵌套 SELECT/FROM 的查询会解析错误，这里不做特殊处理。
func (v *View) Columns(_ context.Context) ([]string, error) {
	upper := strings.ToUpper(v.query)
	start := strings.Index(upper, "SELECT ")
	if start < 0 {
		return nil, fmt.Errorf("view %s: no SELECT clause in %q", v.name, v.query)
	}
	start += len("SELECT ")
	end := strings.Index(upper[start:], " FROM")
	if end < 0 {
		return nil, fmt.Errorf("view %s: no FROM clause in %q", v.name, v.query)
	}

	parts := strings.Split(v.query[start:start+end], ",")
	columns := make([]string, 0, len(parts))
	for _, p := range parts {
		columns = append(columns, strings.TrimSpace(p))
	}
	return columns, nil
}

// Close 删除底层视图。
func (v *View) Close(ctx context.Context) error {
	if v == nil || !v.db.HasView(v.name) {
		return nil
	}
	return v.db.Drop(ctx, v.name)
}
