package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lodestone-ai/lodestone/internal/config"
	"github.com/lodestone-ai/lodestone/internal/jobs"
	"github.com/lodestone-ai/lodestone/internal/queue"
	"github.com/spf13/cobra"
)

// WorkerCmd returns the worker command
func WorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Start ingestion workers",
		Long:  "Start a pool of workers that process queued document ingestion jobs",
		RunE:  runWorker,
	}

	cmd.Flags().IntP("count", "c", 0, "Number of worker goroutines (defaults to LODESTONE_WORKER_COUNT)")

	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// A standalone worker is only useful against a shared queue.
	if !cfg.HasRedis() {
		return fmt.Errorf("LODESTONE_REDIS_URL is required for a standalone worker; without Redis run 'serve' with its embedded worker")
	}

	shutdownTelemetry := initTelemetry(cfg)
	defer shutdownTelemetry()

	app, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	if err := recoverStranded(ctx, app.Queue); err != nil {
		return fmt.Errorf("failed to recover stranded jobs: %w", err)
	}

	count, _ := cmd.Flags().GetInt("count")
	if count <= 0 {
		count = cfg.WorkerCount
	}

	worker := jobs.NewWorker(app.Queue, app.Ingest, count)
	worker.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	cancel()
	worker.Wait()
	return nil
}

// recoverStranded requeues jobs left in the Redis processing list by a
// crashed worker. Runs wherever a worker pool starts; queues without a
// processing list have nothing to recover.
func recoverStranded(ctx context.Context, q queue.Queue) error {
	rq, ok := q.(*queue.RedisQueue)
	if !ok {
		return nil
	}
	recovered, err := rq.Recover(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		log.Printf("recovered %d stranded jobs", recovered)
	}
	return nil
}
