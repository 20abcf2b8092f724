package main

import (
	"os"

	"github.com/kilianp07/microgrid/cmd"
	coremon "github.com/kilianp07/microgrid/core/monitoring"
)

func main() {
	defer coremon.Recover()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
