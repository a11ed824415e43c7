package main

import (
	"os"

	"github.com/censo/censo/backend/go-services/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
