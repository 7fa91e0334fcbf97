package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and prepare the vector collection",
		Long: `Create or upgrade the metadata schema in Postgres, prepare the vector
collection (pgvector table or on-disk hnsw directory), and ensure the blob
bucket exists.

Safe to run repeatedly; every step is idempotent. A dimension mismatch
between the configured embedding size and an existing vector collection is
a fatal error: changing dimensions requires a new collection and a full
'kbase reindex'.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd)
		},
	}
}

func runMigrate(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := newDeps(loadedConfig)
	defer d.Close()

	if err := d.openDB(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "metadata schema: ok")

	if err := d.openIndex(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "vector collection %s (%s, %d dims): ok\n",
		d.cfg.Vector.Collection, d.cfg.Vector.Backend, d.cfg.Vector.Dimension)

	if err := d.openBlobs(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "blob bucket %s: ok\n", d.cfg.Blob.Bucket)
	return nil
}
