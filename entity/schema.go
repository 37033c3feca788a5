package entity

import (
	"strings"
)

// ColumnDef 是一列的名称和 SQL 定义。
type ColumnDef struct {
	Name       string
	Definition string
}

// Virtual 判断是否为计算列。
func (c ColumnDef) Virtual() bool {
	return strings.Contains(strings.ToUpper(c.Definition), "VIRTUAL")
}

// Schema 是有序的列定义列表。
type Schema []ColumnDef

// InferSchema 按参数值推断列定义。
func InferSchema(params Params) Schema {
	schema := make(Schema, 0, len(params))
	for _, p := range params {
		schema = append(schema, ColumnDef{Name: p.Key, Definition: p.Value.Type.Definition(p.Key)})
	}
	return schema
}

func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// SQL 渲染为 CREATE TABLE 括号内的部分。
func (s Schema) SQL() string {
	parts := make([]string, len(s))
	for i, c := range s {
		parts[i] = QuoteIdent(NormalizeName(c.Name)) + " " + c.Definition
	}
	return strings.Join(parts, ", ")
}

// IsImageColumn 判断列名是否属于图片槽位。
func IsImageColumn(name string) bool {
	return strings.HasPrefix(name, ImageColumnPrefix)
}

const ImageColumnPrefix = "image_"
