package main

import (
	"os"

	"e2e_pairing/cmd/bqp/commands"
	"e2e_pairing/internal/utils/log"
)

func main() {
	err := commands.Execute()
	log.Sync()
	if err != nil {
		os.Exit(1)
	}
}
