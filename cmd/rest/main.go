package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"cyborg-chat-be/internal/bootstrap"
	"cyborg-chat-be/internal/config"
	"cyborg-chat-be/internal/server"
	"cyborg-chat-be/internal/tracer"
	"cyborg-chat-be/pkg/database"
	"cyborg-chat-be/pkg/events"
	"cyborg-chat-be/pkg/llm"

	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	warmupTimeout   = 2 * time.Minute
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// 2. Tracing
	shutdownTracer := tracer.InitTracer(cfg.Tracing)
	defer shutdownTracer(context.Background())

	// 3. Initialize Database
	gormDB, err := database.NewGormDBFromDSN(cfg.Database.Connection, database.Options{
		Verbose: !cfg.IsProduction(),
	})
	if err != nil {
		log.Panicf("Unable to connect to GORM DB: %v", err)
	}

	// 4. Bootstrap Dependencies (Container)
	container := bootstrap.NewContainer(gormDB, cfg)
	defer container.Close()
	sysLogger := container.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// 5. Start Background Services
	container.IngestionService.RegisterJobs(container.Queue)
	g.Go(func() error {
		return container.Queue.Run(gctx)
	})
	g.Go(func() error {
		container.Hub.Run(gctx)
		return nil
	})

	if container.Subscriber != nil {
		if err := container.Subscriber.Subscribe(gctx, events.TypeSessionDeleted, "index-janitor", container.IndexJanitor.HandleEvent); err != nil {
			sysLogger.Warn("Main", "Index janitor not subscribed, deletes fall back to local drops", map[string]interface{}{"error": err.Error()})
		}
	}

	if warmer, ok := container.LLMProvider.(llm.Warmer); ok {
		go func() {
			wctx, cancel := context.WithTimeout(gctx, warmupTimeout)
			defer cancel()
			if err := warmer.Warmup(wctx); err != nil {
				sysLogger.Warn("Main", "LLM warmup failed", map[string]interface{}{"error": err.Error()})
				return
			}
			sysLogger.Info("Main", "LLM model loaded", nil)
		}()
	}

	// Uploads accepted before the router subscribes would be lost.
	select {
	case <-container.Queue.Running():
	case <-gctx.Done():
	}

	// 6. Initialize and Run Server
	srv := server.New(cfg, container)
	g.Go(srv.Run)
	g.Go(func() error {
		<-gctx.Done()
		sysLogger.Info("Main", "Shutting down", nil)

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		container.Hub.Shutdown()
		err := srv.Shutdown(sctx)
		if qerr := container.Queue.Close(); err == nil {
			err = qerr
		}
		return err
	})

	if err := g.Wait(); err != nil {
		sysLogger.Error("Main", "Server stopped with error", map[string]interface{}{"error": err.Error()})
	}
}
