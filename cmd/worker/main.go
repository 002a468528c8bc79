package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloudui-prototype/core"
)

// journalPruner is the part of the attempt journal the worker needs.
type journalPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

func main() {
	cfg, err := core.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCloser, err := core.SetupLogging(cfg, "worker.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	if cfg.DatabaseURL == "" {
		log.Fatalf("DATABASE_URL is required for the journal worker")
	}
	repo, db, err := core.OpenAttemptJournal(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open attempt journal: %v", err)
	}
	defer db.Close()

	hostname, _ := os.Hostname()
	log.Printf("worker started. host=%s retention=%s interval=%s", hostname, cfg.JournalRetention, cfg.PruneInterval)
	runPruner(ctx, repo, cfg.JournalRetention, cfg.PruneInterval, time.Now)
}

// runPruner prunes once immediately and then every interval until ctx is done.
func runPruner(ctx context.Context, repo journalPruner, retention, interval time.Duration, now func() time.Time) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		pruneOnce(ctx, repo, now().Add(-retention))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func pruneOnce(ctx context.Context, repo journalPruner, cutoff time.Time) {
	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := repo.Prune(pctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[pruner] prune before %s: %v", cutoff.Format(time.RFC3339), err)
		}
		return
	}
	if n > 0 {
		log.Printf("[pruner] removed %d attempts finished before %s", n, cutoff.Format(time.RFC3339))
	}
}
