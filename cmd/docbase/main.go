// Package main provides the entry point for the docbase CLI.
package main

import (
	"os"

	"github.com/docbase-ai/docbase/cmd/docbase/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
