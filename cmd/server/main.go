package main

import (
	"os"

	"github.com/wotideas/ideas-engine/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
