package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"github.com/tnqbao/gau-compute-service/config"
	"github.com/tnqbao/gau-compute-service/http/controller"
	routes "github.com/tnqbao/gau-compute-service/http/route"
	infraPkg "github.com/tnqbao/gau-compute-service/infra"
	"github.com/tnqbao/gau-compute-service/provider"
	"github.com/tnqbao/gau-compute-service/repository"
	"github.com/tnqbao/gau-compute-service/service"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, continuing with environment variables")
	}

	cfg := config.NewConfig()
	infra := infraPkg.InitInfra(cfg)
	repo := repository.InitRepository(infra)
	prov := provider.InitProvider(cfg.EnvConfig)

	svc := service.NewService(cfg, repo.VMRepo, prov.ComputeBackendProvider, infra.Produce.VMService, infra.Redis, infra.Logger)
	ctrl := controller.NewController(cfg, infra, svc)

	router := routes.SetupRouter(ctrl)

	defer func() {
		infra.Telemetry.Shutdown(context.Background())
		_ = infra.Logger.Shutdown(context.Background())
		infra.RabbitMQ.Close()
	}()

	log.Println("HTTP Server started on :8080")
	if err := router.Run(":8080"); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
