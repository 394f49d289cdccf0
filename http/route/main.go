package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-compute-service/http/controller"
	middlewares "github.com/tnqbao/gau-compute-service/http/middleware"
)

func SetupRouter(ctrl *controller.Controller) *gin.Engine {
	r := gin.Default()
	middles, err := middlewares.NewMiddlewares(ctrl)
	if err != nil {
		panic(err)
	}

	r.Use(middles.CORSMiddleware)
	r.GET("/healthz", ctrl.HealthCheck)

	apiRoutes := r.Group("/api/v1/compute")
	{
		apiRoutes.POST("/auth/token", ctrl.IssueToken)

		vmRoutes := apiRoutes.Group("/vms")
		{
			vmRoutes.Use(middles.AuthMiddleware)

			vmRoutes.POST("/", ctrl.CreateVM)
			vmRoutes.GET("/", ctrl.ListVMs)
			vmRoutes.GET("/:id", ctrl.GetVM)
			vmRoutes.DELETE("/:id", ctrl.DeleteVM)
		}
	}
	return r
}
