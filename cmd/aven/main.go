package main

import (
	"os"

	"github.com/avenhq/aven/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
