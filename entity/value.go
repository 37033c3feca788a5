package entity

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var ErrOddParams = errors.New("params must be key/value pairs")

// Value 是一个带类型标记的列值。Raw 只会是 int64、float64、string、[]byte 或 nil。
type Value struct {
	Type ColumnType
	Raw  any
}

// Null 返回一个 TEXT 类型的空值。
func Null() Value {
	return Value{Type: ColumnTypeText}
}

// IsNull 判断是否为空值。
func (v Value) IsNull() bool {
	return v.Raw == nil
}

// ValueOf 把任意 Go 值转换为 Value。
func ValueOf(v any) (Value, error) {
	typ, err := InferColumnType(v)
	if err != nil {
		return Value{}, err
	}

	switch val := v.(type) {
	case nil:
		return Value{Type: typ}, nil
	case Value:
		return val, nil
	case bool:
		if val {
			return Value{Type: typ, Raw: int64(1)}, nil
		}
		return Value{Type: typ, Raw: int64(0)}, nil
	case int:
		return Value{Type: typ, Raw: int64(val)}, nil
	case int8:
		return Value{Type: typ, Raw: int64(val)}, nil
	case int16:
		return Value{Type: typ, Raw: int64(val)}, nil
	case int32:
		return Value{Type: typ, Raw: int64(val)}, nil
	case int64:
		return Value{Type: typ, Raw: val}, nil
	case uint:
		if uint64(val) > math.MaxInt64 {
			return Value{}, fmt.Errorf("%w: uint %d overflows INTEGER", ErrUnsupportedType, val)
		}
		return Value{Type: typ, Raw: int64(val)}, nil
	case uint8:
		return Value{Type: typ, Raw: int64(val)}, nil
	case uint16:
		return Value{Type: typ, Raw: int64(val)}, nil
	case uint32:
		return Value{Type: typ, Raw: int64(val)}, nil
	case uint64:
		if val > math.MaxInt64 {
			return Value{}, fmt.Errorf("%w: uint64 %d overflows INTEGER", ErrUnsupportedType, val)
		}
		return Value{Type: typ, Raw: int64(val)}, nil
	case float32:
		return Value{Type: typ, Raw: float64(val)}, nil
	case float64:
		return Value{Type: typ, Raw: val}, nil
	case string:
		return Value{Type: typ, Raw: val}, nil
	case []byte:
		return Value{Type: typ, Raw: val}, nil
	case time.Time:
		return Value{Type: typ, Raw: val.Format(TimeLayout)}, nil
	case fmt.Stringer:
		return Value{Type: typ, Raw: val.String()}, nil
	case error:
		return Value{Type: typ, Raw: val.Error()}, nil
	}
	return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

// Param 是有序参数表中的一项。
type Param struct {
	Key   string
	Value Value
}

// Params 是保持插入顺序的列名到值的映射。
type Params []Param

// ParamsOf 按 key/value 交替的方式构造参数表，例如 ParamsOf("k", 3, "lr", 0.1)。
func ParamsOf(kv ...any) (Params, error) {
	if len(kv)%2 != 0 {
		return nil, ErrOddParams
	}
	params := make(Params, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			return nil, fmt.Errorf("param key at %d is %T, want string", i, kv[i])
		}
		if err := params.Set(key, kv[i+1]); err != nil {
			return nil, err
		}
	}
	return params, nil
}

// MustParams 同 ParamsOf，出错时 panic。
func MustParams(kv ...any) Params {
	params, err := ParamsOf(kv...)
	if err != nil {
		panic(err)
	}
	return params
}

// ParamsFromMap 从 map 构造参数表，key 按字典序排列。
func ParamsFromMap(m map[string]any) (Params, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	params := make(Params, 0, len(keys))
	for _, k := range keys {
		if err := params.Set(k, m[k]); err != nil {
			return nil, err
		}
	}
	return params, nil
}

// Set 写入或覆盖一个参数，key 会被规范化。
func (p *Params) Set(key string, v any) error {
	value, err := ValueOf(v)
	if err != nil {
		return fmt.Errorf("param %q: %w", key, err)
	}
	key = NormalizeName(key)
	for i := range *p {
		if (*p)[i].Key == key {
			(*p)[i].Value = value
			return nil
		}
	}
	*p = append(*p, Param{Key: key, Value: value})
	return nil
}

// Get 按 key 取值。
func (p Params) Get(key string) (Value, bool) {
	for _, item := range p {
		if item.Key == key {
			return item.Value, true
		}
	}
	return Value{}, false
}

func (p Params) Keys() []string {
	keys := make([]string, len(p))
	for i, item := range p {
		keys[i] = item.Key
	}
	return keys
}

// Args 返回用于参数绑定的原始值。
func (p Params) Args() []any {
	args := make([]any, len(p))
	for i, item := range p {
		args[i] = item.Value.Raw
	}
	return args
}

// Clone 返回一个浅拷贝，调用方可以放心追加。
func (p Params) Clone() Params {
	out := make(Params, len(p))
	copy(out, p)
	return out
}

func (p Params) Len() int {
	return len(p)
}
