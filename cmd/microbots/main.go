package main

import (
	"os"

	"github.com/oddcyb/microbots/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
