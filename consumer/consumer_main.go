package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/tnqbao/gau-compute-service/config"
	"github.com/tnqbao/gau-compute-service/consumer/worker"
	infraPkg "github.com/tnqbao/gau-compute-service/infra"
	"github.com/tnqbao/gau-compute-service/repository"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, continuing with environment variables")
	}

	cfg := config.NewConfig()
	infra := infraPkg.InitInfra(cfg)
	repo := repository.InitRepository(infra)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	vmEventConsumer := worker.NewVMEventConsumer(infra.RabbitMQ.Channel, infra, repo)
	if err := vmEventConsumer.Start(ctx); err != nil {
		infra.Logger.ErrorWithContextf(ctx, err, "Failed to start VM event consumer: %v", err)
		log.Fatalf("Failed to start VM event consumer: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	infra.Logger.InfoWithContextf(ctx, "Shutting down consumer...")
	cancel()

	infra.RabbitMQ.Close()
	infra.Logger.InfoWithContextf(ctx, "Consumer exited properly")
}
