package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hashforge/statetried/internal/config"
	"github.com/hashforge/statetried/internal/core/flush"
	"github.com/hashforge/statetried/internal/statedb"
	"github.com/hashforge/statetried/internal/storage/relationaldb"
	"github.com/hashforge/statetried/internal/storage/treestore"
)

// serverCmd runs the state store as a long-lived process: stores open,
// journal replayed, flush ticker and durable writer running until a
// termination signal.
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the state store daemon",
	Long: `Open the node and program stores, replay any unacknowledged flush
batches from the journal, and run the periodic flush together with the
durable writer until interrupted.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return serverCmd.RunE(cmd, args)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Printf("statetried starting: %s\n", cfg)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	nodes, err := openStore(&cfg.Nodes)
	if err != nil {
		return fmt.Errorf("opening node store: %w", err)
	}
	defer nodes.Close()

	programs, err := openStore(&cfg.Programs)
	if err != nil {
		return fmt.Errorf("opening program store: %w", err)
	}
	defer programs.Close()

	var journal *flush.Journal
	var pipeline *flush.Pipeline
	if cfg.JournalPath != "" {
		batches, lastID, storedID, err := flush.ReplayJournal(cfg.JournalPath)
		if err != nil {
			return err
		}
		journal, err = flush.OpenJournal(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer journal.Close()

		pipeline = flush.NewPipeline(journal)
		pipeline.Restore(batches, lastID, storedID)
		if !quiet && len(batches) > 0 {
			fmt.Printf("replayed %d unacknowledged batches (last id %d)\n", len(batches), lastID)
		}
	} else {
		pipeline = flush.NewPipeline(nil)
	}

	sdb := statedb.New(nodes, programs, pipeline)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.FlushInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.FlushInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if id, _, code := sdb.Flush(ctx); code != statedb.CodeSuccess {
						log.Printf("periodic flush %d failed: %s", id, code)
					}
				}
			}
		})
	}

	if cfg.DurableEnabled {
		writer, err := relationaldb.NewWriter(ctx, &cfg.Durable, sdb)
		if err != nil {
			return err
		}
		defer writer.Close()
		g.Go(func() error { return writer.Run(ctx) })
	}

	// Periodic negative-cache sweep keeps known-missing entries bounded.
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				nodes.Sweep()
				programs.Sweep()
			}
		}
	})

	if !quiet {
		fmt.Println("statetried running; Ctrl-C to stop")
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if !quiet {
		fmt.Printf("shutdown: %s\n", nodes.Stats())
	}
	return nil
}

// openStore builds the two-tier database for one store configuration.
func openStore(cfg *treestore.Config) (*treestore.Database, error) {
	backend, err := treestore.CreateBackend(cfg.Backend, cfg)
	if err != nil {
		return nil, err
	}
	if err := backend.Open(cfg.CreateIfMissing); err != nil {
		return nil, err
	}
	db, err := treestore.NewDatabase(backend, cfg)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return db, nil
}
