package main

import (
	"os"

	"github.com/ambientlabs/halo/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
