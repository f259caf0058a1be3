package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/lodestone-ai/lodestone/internal/config"
	"github.com/lodestone-ai/lodestone/internal/jobs"
	"github.com/lodestone-ai/lodestone/internal/queue"
	"github.com/spf13/cobra"
)

// ReindexCmd returns the reindex command
func ReindexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Re-embed indexed documents under a new embedding version",
		Long: "Re-run chunking, embedding, and indexing for every indexed document " +
			"that is not yet on the target embedding version. Each document keeps " +
			"serving its old vectors until its new ones are fully written.",
		RunE: runReindex,
	}

	cmd.Flags().String("version", "", "Target embedding version (required)")
	cmd.Flags().IntP("count", "c", 0, "Number of worker goroutines (defaults to LODESTONE_WORKER_COUNT)")
	_ = cmd.MarkFlagRequired("version")

	return cmd
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	version, _ := cmd.Flags().GetString("version")

	// The migration drains its own in-process queue so running workers on the
	// shared queue never pick these jobs up under the old version.
	q := queue.NewMemoryQueue(256)
	app, err := newApp(ctx, cfg, appOptions{embeddingVersion: version, queue: q})
	if err != nil {
		return err
	}
	defer app.Close()

	ids, err := app.DocRepo.ListIndexed(ctx, version)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	if len(ids) == 0 {
		log.Printf("all indexed documents are already on version %s", version)
		return nil
	}
	log.Printf("reindexing %d documents under version %s", len(ids), version)

	count, _ := cmd.Flags().GetInt("count")
	if count <= 0 {
		count = cfg.WorkerCount
	}

	worker := jobs.NewWorker(q, app.Ingest, count)
	worker.Start(ctx)

	enqueued := 0
	for _, id := range ids {
		if err := app.Ingest.Reindex(ctx, id); err != nil {
			log.Printf("skipping document %s: %v", id, err)
			continue
		}
		enqueued++
	}
	// Closing after the last enqueue lets workers drain the buffer and exit.
	q.Close()
	worker.Wait()

	log.Printf("reindex complete: %d of %d documents processed under version %s", enqueued, len(ids), version)
	return nil
}
