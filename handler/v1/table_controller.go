package v1

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Mr-SGXXX/pyerm/entity"
	"github.com/Mr-SGXXX/pyerm/service"

	"github.com/gin-gonic/gin"
)

type TableController struct {
	inspectService *service.InspectService
}

func NewTableController(inspectService *service.InspectService) *TableController {
	return &TableController{inspectService: inspectService}
}

// ListTables handles GET /v1/tables
func (c *TableController) ListTables(ctx *gin.Context) {
	relations, err := c.inspectService.Relations(ctx.Request.Context())
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, relations)
}

// QueryTable handles GET /v1/tables/:name
// where/order 是原生 SQL 片段，这个接口只应该暴露给本机使用者。
func (c *TableController) QueryTable(ctx *gin.Context) {
	var params entity.QueryParams
	if err := ctx.ShouldBindQuery(&params); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := ctx.Param("name")
	where := entity.RawPredicate(strings.TrimSpace(params.Where))

	total, err := c.inspectService.Query(ctx.Request.Context(), name, entity.SelectQuery{
		Columns: []string{"COUNT(*)"},
		Where:   where,
	})
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}

	other := fmt.Sprintf("LIMIT %d OFFSET %d", params.GetLimit(), params.GetOffset())
	if order := strings.TrimSpace(params.Order); order != "" {
		other = "ORDER BY " + order + " " + other
	}
	rs, err := c.inspectService.Query(ctx.Request.Context(), name, entity.SelectQuery{
		Columns: params.ColumnList(),
		Where:   where,
		Other:   entity.RawClause(other),
	})
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}

	records := rs.Records()
	if !params.WithImages {
		for _, record := range records {
			for k, v := range record {
				if b, ok := v.([]byte); ok && entity.IsImageColumn(k) {
					record[k] = fmt.Sprintf("<image %d bytes>", len(b))
				}
			}
		}
	}

	var count int64
	if total.Len() > 0 {
		if n, ok := total.Rows[0][0].(int64); ok {
			count = n
		}
	}
	ctx.JSON(http.StatusOK, entity.PageResult{Total: count, List: records})
}
