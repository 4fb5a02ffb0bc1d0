package main

import (
	"os"

	"github.com/sandeepkv93/scan-attendance-service/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
