// Surge-QX
// A Surge to QuantumultX rule list converter
package main

import (
	"fmt"
	"os"

	"github.com/xxxbrian/surge-qx/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
