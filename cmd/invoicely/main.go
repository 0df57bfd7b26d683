// Package main is the entry point for the invoicely command line.
package main

import (
	"fmt"
	"os"

	"invoicely/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
