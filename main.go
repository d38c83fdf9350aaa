package main

import (
	"os"

	"github/itish2003/pdfrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
