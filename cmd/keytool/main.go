package main

import (
	"os"

	"github.com/la-ruche/keyserver/cmd/keytool/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
