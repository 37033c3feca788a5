package entity

// RawPredicate 是直接交给 SQLite 求值的布尔表达式，例如 "status = 'failed'"。
// 这里的文本不会做参数化处理，调用方必须是可信的；跨越信任边界的调用应改用参数绑定。
type RawPredicate string

// RawClause 是原样追加在 SELECT 末尾的子句，例如 "ORDER BY id DESC LIMIT 1"。
type RawClause string

// SelectQuery 描述一次 select 调用。
type SelectQuery struct {
	Columns []string
	Where   RawPredicate
	Other   RawClause
}

// ResultSet 是一次查询的结果，列顺序与 SQL 一致。
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func (r *ResultSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// ColumnIndex 返回列下标，不存在时为 -1。
func (r *ResultSet) ColumnIndex(name string) int {
	for i, c := range r.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value 取第 row 行 name 列的值。
func (r *ResultSet) Value(row int, name string) (any, bool) {
	idx := r.ColumnIndex(name)
	if idx < 0 || row < 0 || row >= len(r.Rows) {
		return nil, false
	}
	return r.Rows[row][idx], true
}

// Records 把结果转换成按列名索引的 map 列表。
func (r *ResultSet) Records() []map[string]any {
	records := make([]map[string]any, 0, r.Len())
	for _, row := range r.Rows {
		record := make(map[string]any, len(r.Columns))
		for i, c := range r.Columns {
			record[c] = row[i]
		}
		records = append(records, record)
	}
	return records
}
