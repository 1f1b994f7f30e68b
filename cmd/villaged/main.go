package main

import (
	"os"

	"villagecraft.ai/cmd/villaged/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
