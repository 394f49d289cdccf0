package controller

import (
	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-compute-service/config"
	"github.com/tnqbao/gau-compute-service/infra"
	"github.com/tnqbao/gau-compute-service/service"
	"github.com/tnqbao/gau-compute-service/utils"
)

type Controller struct {
	Config  *config.Config
	Infra   *infra.Infra
	Service *service.Service
}

func NewController(config *config.Config, infra *infra.Infra, svc *service.Service) *Controller {
	if svc == nil {
		panic("Failed to initialize Service")
	}
	return &Controller{
		Config:  config,
		Infra:   infra,
		Service: svc,
	}
}

func (ctrl *Controller) HealthCheck(c *gin.Context) {
	utils.JSON200(c, gin.H{"status": "alive"})
}
