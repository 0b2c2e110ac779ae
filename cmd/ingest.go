package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/acmetech/docchat/internal/app"
	"github.com/acmetech/docchat/internal/ingest"
)

// writerLockPath is the advisory lock shared by the commands that write to
// the index (ingest, remove).
func writerLockPath() string {
	return filepath.Join(os.TempDir(), "docchat-writer.lock")
}

var (
	ingestDir   string
	ingestWatch bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Index documents into the fragment store",
	Long: `Index documents into the fragment store.

With file arguments, each named file is indexed. Without arguments, every
supported document in the documents directory is indexed; files that cannot
be read or contain no text are skipped.

With --watch the command keeps running after the initial pass and re-indexes
documents as they change on disk.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context(), args)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "documents directory (defaults to the configured one)")
	ingestCmd.Flags().BoolVar(&ingestWatch, "watch", false, "keep watching the directory and re-index on change")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(parent context.Context, args []string) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	release, err := ingest.AcquireLock(writerLockPath())
	if err != nil {
		return err
	}
	defer func() { _ = release() }()

	a, err := app.Setup(ctx)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	if len(args) > 0 {
		if ingestWatch {
			return errors.New("--watch applies to directory ingestion, not file arguments")
		}
		for _, path := range args {
			n, err := a.Ingester.IngestFile(ctx, path)
			if err != nil {
				return err
			}
			fmt.Printf("indexed %s (%d fragments)\n", path, n)
		}
		return nil
	}

	dir := ingestDir
	if dir == "" {
		dir = a.Config.DocumentsDir
	}

	summary, err := a.Ingester.IngestDir(ctx, dir)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d documents (%d fragments, %d skipped)\n",
		summary.Documents, summary.Fragments, summary.Skipped)

	if stats, err := a.Store.Stats(ctx); err == nil {
		fmt.Printf("index now holds %d vectors (dimension %d)\n", stats.TotalVectors, stats.Dimension)
	}

	if !ingestWatch {
		return nil
	}

	watcher := ingest.NewWatcher(a.Ingester, a.Logger)
	if err := watcher.Watch(ctx, dir); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
