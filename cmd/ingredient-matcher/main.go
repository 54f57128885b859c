package main

import (
	"os"

	"github.com/noot-app/ingredient-matcher/internal/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		os.Exit(1)
	}
}
