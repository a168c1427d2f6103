package main

import (
	"os"

	"github.com/mbellotti/notiq/cmd/notiqctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
