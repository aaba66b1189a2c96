package main

import (
	"fmt"
	"os"

	"github.com/chaoschain/gateway/cmd/gatewayd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
