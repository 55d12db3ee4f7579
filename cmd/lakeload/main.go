package main

import (
	"os"

	"github.com/justapithecus/lakeload/cmd/lakeload/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
