package main

import (
	"os"

	"github.com/wonny/cepfolio/cmd/quant/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
