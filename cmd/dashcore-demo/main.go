// Package main is the entry point for the dashcore-demo application.
package main

import (
	"os"

	"github.com/nilstream/dashcore/cmd/dashcore-demo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
