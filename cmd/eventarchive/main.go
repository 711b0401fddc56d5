// Command eventarchive manages the event log, its archive and its index.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/arkilian/eventarchive/internal/cli"
)

func main() {
	// A missing .env file is normal.
	_ = godotenv.Load()

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
