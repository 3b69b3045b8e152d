// Package main is inventoryctl, the operator CLI: schema lint, DDL
// generation and migration, and dev token minting.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
