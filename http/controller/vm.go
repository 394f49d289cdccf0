package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tnqbao/gau-compute-service/http/controller/dto"
	"github.com/tnqbao/gau-compute-service/repository"
	"github.com/tnqbao/gau-compute-service/service"
	"github.com/tnqbao/gau-compute-service/utils"
)

func (ctrl *Controller) CreateVM(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateVMRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[VM] Failed to bind JSON: %v", err)
		utils.JSON400(c, "Invalid request payload")
		return
	}

	ctrl.Infra.Logger.InfoWithContextf(ctx, "[VM] Provision request for '%s' (%d cores, %d MB, %d GB) by user: %s",
		req.Name, req.CPUCores, req.MemoryMB, req.DiskGB, c.GetString("user_id"))

	vm, err := ctrl.Service.CreateVM(ctx, service.CreateVMSpec{
		Name:     req.Name,
		CPUCores: req.CPUCores,
		MemoryMB: req.MemoryMB,
		DiskGB:   req.DiskGB,
		PublicIP: req.PublicIP,
		Labels:   req.Labels,
	})
	if err != nil {
		ctrl.respondServiceError(c, err)
		return
	}

	utils.JSON201(c, gin.H{
		"message": "VM created successfully",
		"vm":      vm,
	})
}

func (ctrl *Controller) DeleteVM(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.JSON400(c, "Invalid VM id")
		return
	}

	ctrl.Infra.Logger.InfoWithContextf(ctx, "[VM] Delete request for %s by user: %s", id, c.GetString("user_id"))

	vm, err := ctrl.Service.DeleteVM(ctx, id)
	if err != nil {
		ctrl.respondServiceError(c, err)
		return
	}

	utils.JSON200(c, gin.H{
		"message": "VM deleted successfully",
		"vm":      vm,
	})
}

func (ctrl *Controller) GetVM(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.JSON400(c, "Invalid VM id")
		return
	}

	vm, err := ctrl.Service.GetVM(ctx, id)
	if err != nil {
		ctrl.respondServiceError(c, err)
		return
	}

	utils.JSON200(c, gin.H{"vm": vm})
}

func (ctrl *Controller) ListVMs(c *gin.Context) {
	ctx := c.Request.Context()

	var filter repository.VMFilter
	if statusParam := c.Query("status"); statusParam != "" {
		status := entityStatus(statusParam)
		if status == nil {
			utils.JSON400(c, "Invalid status filter")
			return
		}
		filter.Status = status
	}

	vms, err := ctrl.Service.ListVMs(ctx, filter)
	if err != nil {
		ctrl.respondServiceError(c, err)
		return
	}

	utils.JSON200(c, gin.H{
		"vms":   vms,
		"count": len(vms),
	})
}

// respondServiceError maps lifecycle error kinds to HTTP statuses. Each
// kind maps to a distinct, documented status; retryable kinds are
// distinguishable from the body.
func (ctrl *Controller) respondServiceError(c *gin.Context, err error) {
	ctx := c.Request.Context()

	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[VM] Unexpected error: %v", err)
		utils.JSON500(c, "Internal server error")
		return
	}

	switch svcErr.Kind {
	case service.KindInvalidSpec:
		utils.JSONError(c, http.StatusBadRequest, string(svcErr.Kind), svcErr.Message)
	case service.KindNotFound:
		utils.JSONError(c, http.StatusNotFound, string(svcErr.Kind), svcErr.Message)
	case service.KindInvalidState, service.KindConflict, service.KindBackendAmbiguous:
		utils.JSONError(c, http.StatusConflict, string(svcErr.Kind), svcErr.Message)
	case service.KindBackendRejected, service.KindBackendUnavailable:
		utils.JSONError(c, http.StatusBadGateway, string(svcErr.Kind), svcErr.Message)
	default:
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[VM] Internal error: %v", err)
		utils.JSON500(c, "Internal server error")
	}
}
