package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docuforge/kbase/internal/model"
	"github.com/docuforge/kbase/internal/reconcile"
)

func newReindexCmd() *cobra.Command {
	var (
		ownerID  int64
		statuses []string
	)

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild vectors from the canonical chunk rows",
		Long: `Rebuild the derived vector index from the chunks stored in Postgres.

Use after switching embedding models, losing the vector store, or any
suspected drift between chunk edits and vectors. Documents rebuild
sequentially; one failure never stops the run.

By default only indexed documents rebuild. Pass --status to widen the set,
--owner to restrict to one tenant.`,
		Example: `  # Rebuild every indexed document
  kbase reindex

  # Rebuild one tenant
  kbase reindex --owner 42

  # Include approved documents whose indexing failed mid-flight
  kbase reindex --status indexed --status approved`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReindex(cmd, ownerID, statuses)
		},
	}

	cmd.Flags().Int64Var(&ownerID, "owner", 0, "Restrict to one tenant's documents")
	cmd.Flags().StringArrayVar(&statuses, "status", nil, "Document statuses to rebuild (default: indexed)")

	return cmd
}

func runReindex(cmd *cobra.Command, ownerID int64, statuses []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := newDeps(loadedConfig)
	defer d.Close()

	if err := d.openDB(ctx); err != nil {
		return err
	}
	if err := d.openIndex(ctx); err != nil {
		return err
	}
	d.openRegistry()

	filter := reconcile.Filter{OwnerID: ownerID}
	for _, s := range statuses {
		filter.Statuses = append(filter.Statuses, model.DocumentStatus(s))
	}

	svc := reconcile.New(d.db, d.index, d.registry, d.log)
	summary, err := svc.Reindex(ctx, filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "rebuilt: %d\n", len(summary.OK))
	if len(summary.Failed) > 0 {
		fmt.Fprintf(out, "failed:  %d\n", len(summary.Failed))
		for _, f := range summary.Failed {
			fmt.Fprintf(out, "  document %d: %s\n", f.DocumentID, f.Reason)
		}
		return fmt.Errorf("%d documents failed to rebuild", len(summary.Failed))
	}
	return nil
}
