package router

import (
	"github.com/Mr-SGXXX/pyerm/dao"
	v1 "github.com/Mr-SGXXX/pyerm/handler/v1"
	"github.com/Mr-SGXXX/pyerm/service"

	"github.com/gin-gonic/gin"
)

// SetupRouter 注册浏览接口。cache 可以为 nil，此时统计结果不缓存。
func SetupRouter(database *dao.Database, cache *service.StatisticsCache) *gin.Engine {
	inspectService := service.NewInspectService(database)
	maintenanceService := service.NewMaintenanceService(database)
	statisticsService := service.NewStatisticsService(database, cache)

	tableController := v1.NewTableController(inspectService)
	experimentController := v1.NewExperimentController(inspectService, maintenanceService)
	statisticsController := v1.NewStatisticsController(database, statisticsService)
	maintenanceController := v1.NewMaintenanceController(maintenanceService)

	r := gin.Default()
	r.Use(gin.Recovery())

	v1Group := r.Group("/v1")
	{
		v1Group.GET("/version", statisticsController.GetVersion)

		// Table routes
		tables := v1Group.Group("/tables")
		{
			tables.GET("", tableController.ListTables)
			tables.GET("/:name", tableController.QueryTable)
		}

		// Experiment routes
		experiments := v1Group.Group("/experiments")
		{
			experiments.GET("/:id", experimentController.GetExperiment)
			experiments.GET("/:id/images/:name", experimentController.GetExperimentImage)
			experiments.DELETE("/:id", experimentController.DeleteExperiment)
			experiments.PUT("/:id/remark", experimentController.UpdateExperimentRemark)
		}
		v1Group.PUT("/methods/:name/:id/remark", experimentController.UpdateMethodRemark)
		v1Group.PUT("/data/:name/:id/remark", experimentController.UpdateDataRemark)

		// Statistics routes
		v1Group.GET("/settings", statisticsController.GetSettings)
		v1Group.GET("/statistics", statisticsController.GetStatistics)

		// Maintenance routes
		maintenance := v1Group.Group("/maintenance")
		{
			maintenance.POST("/failed", maintenanceController.DeleteFailed)
			maintenance.POST("/images/:task", maintenanceController.ClearImages)
		}
	}

	return r
}
