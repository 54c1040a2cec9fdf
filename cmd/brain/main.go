package main

import (
	"os"

	"github.com/modinired/cesar-brain/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
