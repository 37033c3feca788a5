package v1

import (
	"net/http"

	"github.com/Mr-SGXXX/pyerm/dao"
	"github.com/Mr-SGXXX/pyerm/entity"
	"github.com/Mr-SGXXX/pyerm/service"

	"github.com/gin-gonic/gin"
)

type StatisticsController struct {
	database          *dao.Database
	statisticsService *service.StatisticsService
}

func NewStatisticsController(database *dao.Database, statisticsService *service.StatisticsService) *StatisticsController {
	return &StatisticsController{database: database, statisticsService: statisticsService}
}

// GetStatistics handles GET /v1/statistics?task=&method=&method_id=&data=&data_id=
func (c *StatisticsController) GetStatistics(ctx *gin.Context) {
	var setting entity.Setting
	if err := ctx.ShouldBindQuery(&setting); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if setting.Task == "" || setting.Method == "" || setting.Data == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "task, method and data are required"})
		return
	}
	statistics, err := c.statisticsService.ResultStatistics(ctx.Request.Context(), setting)
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, statistics)
}

// GetSettings handles GET /v1/settings
// 按 task -> method -> method_id -> data -> data_id 逐级返回可选值，未给出的层级返回下一级候选。
func (c *StatisticsController) GetSettings(ctx *gin.Context) {
	var setting entity.Setting
	if err := ctx.ShouldBindQuery(&setting); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reqCtx := ctx.Request.Context()
	_, hasMethodID := ctx.GetQuery("method_id")

	var (
		level  string
		values any
		err    error
	)
	switch {
	case setting.Task == "":
		level = "task"
		values, err = c.statisticsService.Tasks(reqCtx)
	case setting.Method == "":
		level = "method"
		values, err = c.statisticsService.Methods(reqCtx, setting.Task)
	case !hasMethodID:
		level = "method_id"
		values, err = c.statisticsService.MethodIDs(reqCtx, setting.Task, setting.Method)
	case setting.Data == "":
		level = "data"
		values, err = c.statisticsService.Datasets(reqCtx, setting.Task, setting.Method, setting.MethodID)
	default:
		level = "data_id"
		values, err = c.statisticsService.DatasetIDs(reqCtx, setting.Task, setting.Method, setting.MethodID, setting.Data)
	}
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"level": level, "values": values})
}

// GetVersion handles GET /v1/version
func (c *StatisticsController) GetVersion(ctx *gin.Context) {
	version, err := c.database.DataVersion(ctx.Request.Context())
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"version": version})
}
