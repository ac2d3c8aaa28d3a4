package main

import (
	"os"

	"github.com/giantswarm/dbsandbox/cmd/dbsandbox/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
