// Package main provides the entry point for the knowledgectl CLI.
package main

import (
	"os"

	"github.com/knowhost/corekit/cmd/knowledgectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
