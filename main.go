package main

import (
	"os"

	"github.com/srhall/gitcrew/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
