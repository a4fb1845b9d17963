package main

import (
	"os"

	"github.com/kjannette/coinflow/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
