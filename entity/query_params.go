package entity

import "strings"

// QueryParams 定义表浏览接口的查询参数
type QueryParams struct {
	Page     int    `form:"page"`      // 页码
	PageSize int    `form:"page_size"` // 每页数量
	Columns  string `form:"columns"`   // 逗号分隔的列名，空表示全部
	Where    string `form:"where"`     // 原生过滤条件
	Order    string `form:"order"`     // 原生排序子句，例如 "id DESC"

	// 是否返回图片列，默认隐藏
	WithImages bool `form:"with_images"`
}

// GetOffset 计算数据库偏移量
func (p *QueryParams) GetOffset() int {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = 10
	}
	return (p.Page - 1) * p.PageSize
}

// GetLimit 获取限制条数
func (p *QueryParams) GetLimit() int {
	if p.PageSize <= 0 {
		p.PageSize = 10
	}
	return p.PageSize
}

// ColumnList 拆分 Columns 字段。
func (p *QueryParams) ColumnList() []string {
	var cols []string
	for _, c := range strings.Split(p.Columns, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}

// PageResult 通用的分页返回结构
type PageResult struct {
	Total int64       `json:"total"` // 总条数
	List  interface{} `json:"list"`  // 数据列表
}
