// Package main provides the drawing-extractor CLI and API server entrypoint.
package main

import (
	"fmt"
	"os"
)

const version = "1.0.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
