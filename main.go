package main

import (
	"os"

	"github.com/scharc/boxctl/cmd"
	"github.com/scharc/boxctl/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(errors.GetExitCode(err))
	}
}
