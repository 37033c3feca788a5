package v1

import (
	"net/http"

	"github.com/Mr-SGXXX/pyerm/service"

	"github.com/gin-gonic/gin"
)

type MaintenanceController struct {
	maintenanceService *service.MaintenanceService
}

func NewMaintenanceController(maintenanceService *service.MaintenanceService) *MaintenanceController {
	return &MaintenanceController{maintenanceService: maintenanceService}
}

// DeleteFailed handles POST /v1/maintenance/failed
func (c *MaintenanceController) DeleteFailed(ctx *gin.Context) {
	deleted, err := c.maintenanceService.DeleteFailedExperiments(ctx.Request.Context())
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// ClearImages handles POST /v1/maintenance/images/:task
func (c *MaintenanceController) ClearImages(ctx *gin.Context) {
	rows, err := c.maintenanceService.DeleteUselessImages(ctx.Request.Context(), ctx.Param("task"))
	if err != nil {
		writeHTTPError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"rows": rows})
}
