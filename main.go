package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/stacksgate/stacksgate/app/repository"
	"github.com/stacksgate/stacksgate/internal/pkg/cache"
	"github.com/stacksgate/stacksgate/internal/pkg/chain"
	"github.com/stacksgate/stacksgate/internal/pkg/database"
	"github.com/stacksgate/stacksgate/internal/pkg/env"
	"github.com/stacksgate/stacksgate/internal/pkg/jobqueue"
	"github.com/stacksgate/stacksgate/internal/pkg/payments"
	"github.com/stacksgate/stacksgate/internal/pkg/rates"
	"github.com/stacksgate/stacksgate/internal/pkg/router"
	"github.com/stacksgate/stacksgate/internal/pkg/settlement"
	"github.com/stacksgate/stacksgate/internal/pkg/webhooks"
)

func main() {
	app, shutdown := NewApplication()

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		shutdown()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "0.0.0.0"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
}

// NewApplication wires the gateway and returns the fiber app plus a shutdown
// function that stops all background loops.
func NewApplication() (*fiber.App, func()) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()

	// Rate cache survives redis restarts via the in-process fallback layer.
	store := cache.NewLayeredStore(cache.NewRedisStore(cache.GetClient()), cache.NewMemoryStore())

	oracle := rates.NewOracle(rates.DefaultSources(), store)
	chainClient := chain.NewCachedClient(chain.NewHiroClientFromEnv(), store)
	dispatcher := webhooks.NewDispatcher(repos.WebhookLog, repos.Merchant)

	paymentSvc := payments.NewService(repos.PaymentIntent)
	manager := jobqueue.SetupManager(dispatcher, repos.Merchant)
	paymentSvc.WithNotifier(jobqueue.NewQueueNotifier(manager.GetQueue()))

	coordinator := settlement.NewCoordinator(repos, paymentSvc, oracle, chainClient)

	manager.Start()
	coordinator.Start()

	app := fiber.New(fiber.Config{
		AppName:      "StacksGate",
		ErrorHandler: fiber.DefaultErrorHandler,
	})
	app.Use(recover.New(), logger.New())

	router.InstallRouter(app, &router.Dependencies{
		Coordinator: coordinator,
		Payments:    paymentSvc,
		Oracle:      oracle,
		Dispatcher:  dispatcher,
	})

	shutdown := func() {
		coordinator.Shutdown()
		manager.Stop()
	}
	return app, shutdown
}
