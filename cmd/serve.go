package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"phantomrecorder/backend/internal/api/handlers"
	"phantomrecorder/backend/internal/api/routes"
	"phantomrecorder/backend/internal/config"
	"phantomrecorder/backend/internal/services"
	"phantomrecorder/backend/pkg/auth"
	"phantomrecorder/backend/pkg/database"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recording API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	issuer, err := auth.NewIssuer(cfg.JWT.Secret, cfg.Server.APIKey, time.Duration(cfg.JWT.ExpireTime)*time.Second)
	if err != nil {
		return fmt.Errorf("failed to initialize auth (is API_KEY set?): %w", err)
	}

	var store services.Store
	if cfg.Database.Enabled {
		db, err := database.InitDatabase(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer database.Close(db)
		gormStore := services.NewGormStore(db)
		if err := services.SyncStatus(cmd.Context(), gormStore); err != nil {
			log.Printf("Status sync failed: %v", err)
		}
		store = gormStore
	}

	manager := services.NewManager(services.NewHub(), store, services.ChromeLauncher(cfg), cfg.Chrome.MaxInstances)

	reaper, err := services.NewReaper(manager, cfg.Recorder.ReapSchedule, cfg.Recorder.SessionTTL)
	if err != nil {
		return err
	}
	reaper.Start()
	defer reaper.Stop()

	gin.SetMode(cfg.Server.Mode)

	done := make(chan struct{})
	router := routes.SetupRoutes(&handlers.Handlers{
		Manager: manager,
		Issuer:  issuer,
		Done:    done,
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// Event streams manage their own write deadlines.
		WriteTimeout: 0,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	close(done)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.WriteTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}

	manager.Shutdown()
	log.Println("Server shutdown complete")
	return nil
}
