package entity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnsupportedType 值无法映射到任何存储类型。
var ErrUnsupportedType = errors.New("unsupported value type")

// ColumnType 是列的存储类型，取值范围固定。
type ColumnType int

const (
	ColumnTypeInteger ColumnType = iota + 1
	ColumnTypeReal
	ColumnTypeText
	ColumnTypeBlob
	// ColumnTypeBool 以 INTEGER 存储，并约束取值为 0 或 1。
	ColumnTypeBool
)

// TimeLayout 是写入 DATETIME 列时使用的格式。
const TimeLayout = "2006-01-02 15:04:05"

func (c ColumnType) String() string {
	switch c {
	case ColumnTypeInteger:
		return "INTEGER"
	case ColumnTypeReal:
		return "REAL"
	case ColumnTypeText:
		return "TEXT"
	case ColumnTypeBlob:
		return "BLOB"
	case ColumnTypeBool:
		return "BOOLEAN"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(c))
	}
}

// Definition 返回建表或加列时使用的列定义（不含列名）。
func (c ColumnType) Definition(column string) string {
	switch c {
	case ColumnTypeInteger:
		return "INTEGER DEFAULT NULL"
	case ColumnTypeReal:
		return "REAL DEFAULT NULL"
	case ColumnTypeBlob:
		return "BLOB DEFAULT NULL"
	case ColumnTypeBool:
		return fmt.Sprintf("INTEGER DEFAULT NULL CHECK(%s IN (0, 1))", QuoteIdent(column))
	default:
		return "TEXT DEFAULT NULL"
	}
}

// InferColumnType 根据运行时的值推断列类型。
// nil 按 TEXT 处理；实现了 fmt.Stringer 或 error 的值退化为 TEXT。
func InferColumnType(v any) (ColumnType, error) {
	switch val := v.(type) {
	case nil:
		return ColumnTypeText, nil
	case Value:
		return val.Type, nil
	case bool:
		return ColumnTypeBool, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return ColumnTypeInteger, nil
	case float32, float64:
		return ColumnTypeReal, nil
	case string:
		return ColumnTypeText, nil
	case []byte:
		return ColumnTypeBlob, nil
	case time.Time:
		return ColumnTypeText, nil
	case fmt.Stringer, error:
		return ColumnTypeText, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

// QuoteIdent 把标识符包成双引号形式。
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteIdents 逐个引用列名，用于把库中读出的列名交给 SelectQuery.Columns。
func QuoteIdents(names []string) []string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdent(n)
	}
	return quoted
}

// NormalizeName 去掉首尾空白，并把空格替换成下划线。
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
}
