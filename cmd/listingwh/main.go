// Package main provides the listingwh CLI.
package main

import (
	"os"

	"github.com/leapstack-labs/listingwh/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
