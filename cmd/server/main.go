package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/huddle/internal/adapters/http"
	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/app/sfu"
	"github.com/dkeye/huddle/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	worker := sfu.NewWorker(sfu.Config{
		AnnouncedIP:  cfg.Media.AnnouncedIP,
		UDPPort:      cfg.Media.UDPPort,
		PortMin:      cfg.Media.PortMin,
		PortMax:      cfg.Media.PortMax,
		ICEServers:   cfg.Media.ICEServers,
		ReadyTimeout: cfg.Media.ReadyTimeout,
	})
	go app.ExitOnEngineDeath(ctx, worker, cfg.Media.ExitGrace, os.Exit)

	reg := app.NewRegistry()
	o := &orch.Orchestrator{
		Registry:     reg,
		Engine:       worker,
		Policy:       app.SimplePolicy{},
		Limiter:      app.NewRoomRateLimiter(cfg.Limits.RoomOps, cfg.Limits.RoomOpsWindow),
		ChatCapacity: cfg.Chat.Capacity,
	}

	r := router.SetupRouter(ctx, cfg, o, worker)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("huddle server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	reg.CloseAll()
	worker.Close()
	log.Info().Msg("Server exited gracefully")
}
