// Package main provides the entry point for the kbase CLI.
package main

import (
	"os"

	"github.com/docuforge/kbase/cmd/kbase/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
