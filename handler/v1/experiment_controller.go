package v1

import (
	"net/http"

	"github.com/Mr-SGXXX/pyerm/dao"
	"github.com/Mr-SGXXX/pyerm/service"

	"github.com/gin-gonic/gin"
)

type ExperimentController struct {
	inspectService     *service.InspectService
	maintenanceService *service.MaintenanceService
}

func NewExperimentController(inspectService *service.InspectService, maintenanceService *service.MaintenanceService) *ExperimentController {
	return &ExperimentController{
		inspectService:     inspectService,
		maintenanceService: maintenanceService,
	}
}

// remarkRequest 修改别名的请求体
type remarkRequest struct {
	Remark string `json:"remark" binding:"required"`
}

// GetExperiment handles GET /v1/experiments/:id，id 也可以是实验别名
func (c *ExperimentController) GetExperiment(ctx *gin.Context) {
	id, err := c.inspectService.ResolveExperimentID(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}
	detail, err := c.inspectService.ExperimentDetail(ctx.Request.Context(), id)
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, detail)
}

// GetExperimentImage handles GET /v1/experiments/:id/images/:name
func (c *ExperimentController) GetExperimentImage(ctx *gin.Context) {
	id, err := c.inspectService.ResolveExperimentID(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}
	detail, err := c.inspectService.ExperimentDetail(ctx.Request.Context(), id)
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}
	if detail.Result == nil {
		writeHTTPError(ctx, dao.ErrRecordNotFound)
		return
	}
	data, ok := detail.Result.Images[ctx.Param("name")]
	if !ok || len(data) == 0 {
		writeHTTPError(ctx, dao.ErrRecordNotFound)
		return
	}
	ctx.Data(http.StatusOK, http.DetectContentType(data), data)
}

// DeleteExperiment handles DELETE /v1/experiments/:id
func (c *ExperimentController) DeleteExperiment(ctx *gin.Context) {
	id, err := parseIDPathParam(ctx, "id")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := c.maintenanceService.DeleteExperiment(ctx.Request.Context(), id); err != nil {
		writeHTTPError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

// UpdateExperimentRemark handles PUT /v1/experiments/:id/remark
func (c *ExperimentController) UpdateExperimentRemark(ctx *gin.Context) {
	c.updateRemark(ctx, "experiment", "")
}

// UpdateMethodRemark handles PUT /v1/methods/:name/:id/remark
func (c *ExperimentController) UpdateMethodRemark(ctx *gin.Context) {
	c.updateRemark(ctx, string(dao.ParamKindMethod), ctx.Param("name"))
}

// UpdateDataRemark handles PUT /v1/data/:name/:id/remark
func (c *ExperimentController) UpdateDataRemark(ctx *gin.Context) {
	c.updateRemark(ctx, string(dao.ParamKindData), ctx.Param("name"))
}

func (c *ExperimentController) updateRemark(ctx *gin.Context, kind, name string) {
	id, err := parseIDPathParam(ctx, "id")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req remarkRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := c.inspectService.SetRemark(ctx.Request.Context(), kind, name, id, req.Remark); err != nil {
		writeHTTPError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"id": id, "remark": req.Remark})
}
