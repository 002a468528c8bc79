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

	"github.com/gorilla/sessions"

	"cloudui-prototype/core"
)

func main() {
	cfg, err := core.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	var states core.StateStore = core.NewMemoryStateStore()
	if cfg.RedisURL != "" {
		redisClient, err := core.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer redisClient.Close()
		states = core.NewRedisStateStore(redisClient, cfg.ViewIdleTTL)
	} else {
		log.Printf("REDIS_URL not set; view state kept in memory")
	}

	var attempts core.AttemptRecorder = core.NopAttemptRecorder{}
	if cfg.DatabaseURL != "" {
		repo, db, err := core.OpenAttemptJournal(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open attempt journal: %v", err)
		}
		defer db.Close()
		attempts = repo
	} else {
		log.Printf("DATABASE_URL not set; attempt journal disabled")
	}

	var stub *core.StubDirectory
	if cfg.StubUsersFile != "" {
		stub, err = core.LoadStubDirectory(cfg.StubUsersFile)
		if err != nil {
			log.Fatalf("failed to load stub users: %v", err)
		}
		log.Printf("serving %s from %s (%d users)", core.DefaultLoginPath, cfg.StubUsersFile, stub.Len())
	}

	transport := core.NewHTTPLoginClient(cfg.LoginBaseURL, cfg.LoginPath)
	views := core.NewViewSessions(transport, states, attempts, cfg.AttemptTimeout, cfg.ViewIdleTTL)
	go views.RunSweeper(ctx, cfg.SweepInterval)

	// Gorilla cookie store for view session management.
	store := sessions.NewCookieStore([]byte(cfg.SessionKey))
	router := core.NewRouter(cfg, store, views, stub)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}
	go func() {
		log.Printf("starting api server on %s login=%s", srv.Addr, transport.Endpoint())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
