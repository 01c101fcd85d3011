package main

import (
	"os"

	"github.com/adalundhe/cascade/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
