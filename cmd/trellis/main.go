// Package main is the trellis command.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/custodia-labs/trellis/internal/adapters/driving/cli"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cli.SetVersion(version)
	if err := cli.Execute(context.Background(), bootstrap); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
