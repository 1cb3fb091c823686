// Package main is the entry point for the duckq binary.
package main

import (
	"os"

	"duckq/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
