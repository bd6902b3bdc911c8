package main

import (
	"os"

	"github.com/roach88/stockline/internal/cli"
)

func main() {
	os.Exit(cli.Execute(cli.NewRootCommand()))
}
