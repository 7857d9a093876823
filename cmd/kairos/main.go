// kairos runs timeline kernels on the host simulator and the compiled device
// backend, and reports where the two disagree.
package main

import (
	"fmt"
	"os"
)

var version = "0.1.0"

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
