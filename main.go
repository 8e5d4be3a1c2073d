// Package main is the entry point for the afring ring capture tool.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/afring/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
