package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// checkResult is one doctor probe outcome.
type checkResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

func newDoctorCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check connectivity to every configured backend",
		Long: `Probe every backend the service depends on and report reachability.

Checks:
  - Postgres (connect, ping, schema)
  - Object store (bucket access)
  - Redis queue (connect, backlog length)
  - Vector index (collection, dimension)
  - Model providers (default embedder and LLM)

Exit status is non-zero when any check fails.`,
		Example: `  # Run diagnostics
  kbase doctor

  # JSON output for scripting
  kbase doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDoctor(cmd *cobra.Command, jsonOutput bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	d := newDeps(loadedConfig)
	defer d.Close()

	var results []checkResult
	check := func(name string, fn func() (string, error)) {
		detail, err := fn()
		if err != nil {
			results = append(results, checkResult{Name: name, OK: false, Detail: err.Error()})
			return
		}
		results = append(results, checkResult{Name: name, OK: true, Detail: detail})
	}

	check("postgres", func() (string, error) {
		if err := d.openDB(ctx); err != nil {
			return "", err
		}
		return "schema ok", nil
	})
	check("blob store", func() (string, error) {
		if err := d.openBlobs(ctx); err != nil {
			return "", err
		}
		return "bucket " + d.cfg.Blob.Bucket, nil
	})
	check("queue", func() (string, error) {
		if err := d.openQueue(ctx); err != nil {
			return "", err
		}
		backlog, err := d.queue.Len(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("backlog %d", backlog), nil
	})
	check("vector index", func() (string, error) {
		if err := d.openIndex(ctx); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s, %d dims", d.cfg.Vector.Backend, d.cfg.Vector.Dimension), nil
	})
	check("providers", func() (string, error) {
		d.openRegistry()
		if err := d.registry.Probe(ctx); err != nil {
			return "", err
		}
		return fmt.Sprintf("embedder %s, llm %s/%s",
			d.cfg.Provider.EmbeddingProvider, d.cfg.Provider.LLMProvider, d.cfg.Provider.LLMModel), nil
	})

	out := cmd.OutOrStdout()
	failed := 0
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
		for _, r := range results {
			if !r.OK {
				failed++
			}
		}
	} else {
		for _, r := range results {
			mark := "ok"
			if !r.OK {
				mark = "FAIL"
				failed++
			}
			fmt.Fprintf(out, "%-14s %-4s %s\n", r.Name, mark, r.Detail)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(results))
	}
	return nil
}
