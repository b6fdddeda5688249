package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stock_reserve/internal/config"
	"stock_reserve/internal/handler"
	"stock_reserve/internal/service"
	"stock_reserve/internal/store"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

type application struct {
	config             *config.Config
	logger             *log.Logger
	db                 *sql.DB
	redisClient        *redis.Client
	reservationService *service.ReservationService
	server             *http.Server
	shutdownChan       chan struct{}
	sweeperDone        chan struct{}
}

func main() {
	logger := log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.SweepInterval <= 0 {
		logger.Fatalf("SweepInterval must be a positive duration. Check configuration.")
	}

	db, err := store.ConnectDB(cfg.DBDriver, cfg.DBDataSourceName)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Printf("Error closing database: %v", err)
		}
	}()

	if err := store.RunMigrations(db, cfg.MigrationsDir); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient, err := store.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Printf("Error closing Redis client: %v", err)
		}
	}()

	dbStore := store.NewDBStore(db)
	redisStore := store.NewRedisStore(redisClient)
	reservationService := service.NewReservationService(logger, dbStore, redisStore, cfg)

	app := &application{
		config:             cfg,
		logger:             logger,
		db:                 db,
		redisClient:        redisClient,
		reservationService: reservationService,
		shutdownChan:       make(chan struct{}),
		sweeperDone:        make(chan struct{}),
	}

	go app.runSweeper()

	mux := http.NewServeMux()
	mux.Handle("/reserve", handler.NewReserveHandler(logger, reservationService))
	mux.Handle("/release", handler.NewReleaseHandler(logger, reservationService))
	mux.Handle("/release_all", handler.NewReleaseAllHandler(logger, reservationService))
	mux.Handle("/checkout", handler.NewCheckoutHandler(logger, reservationService))
	mux.Handle("/finalize", handler.NewFinalizeHandler(logger, reservationService))
	mux.Handle("/availability", handler.NewAvailabilityHandler(logger, reservationService))
	mux.Handle("/reservation", handler.NewReservationHandler(logger, reservationService))
	mux.Handle("/product", handler.NewProductHandler(logger, reservationService))

	app.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      mux,
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     logger,
	}

	app.serve()
}

func (app *application) serve() {
	app.logger.Printf("Starting server on %s", app.server.Addr)

	errChan := make(chan error)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		app.logger.Fatalf("Server error: %v", err)
	case sig := <-quit:
		app.logger.Printf("Received signal %s. Shutting down server...", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app.logger.Println("Signaling expiry sweeper to stop...")
	close(app.shutdownChan)
	select {
	case <-app.sweeperDone:
		app.logger.Println("Expiry sweeper stopped.")
	case <-time.After(10 * time.Second):
		app.logger.Println("Expiry sweeper did not stop in time.")
	}

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Printf("Graceful server shutdown failed: %v", err)
	} else {
		app.logger.Println("Server gracefully stopped.")
	}

	app.logger.Println("Application shut down complete.")
}

// runSweeper reclaims expired reservations on a fixed interval. Sweep
// failures are logged and retried on the next tick; they never stop the
// loop, since the read-path predicate stays correct without them.
func (app *application) runSweeper() {
	defer close(app.sweeperDone)

	if _, err := app.reservationService.Sweep(context.Background()); err != nil {
		app.logger.Printf("Sweeper: error during initial sweep: %v", err)
	}

	ticker := time.NewTicker(app.config.SweepInterval)
	defer ticker.Stop()

	app.logger.Printf("Expiry sweeper started. Will run every %s.", app.config.SweepInterval.String())

	for {
		select {
		case <-ticker.C:
			if _, err := app.reservationService.Sweep(context.Background()); err != nil {
				app.logger.Printf("Sweeper: error during sweep: %v", err)
			}
		case <-app.shutdownChan:
			app.logger.Println("Sweeper: received shutdown signal. Stopping...")
			return
		}
	}
}
