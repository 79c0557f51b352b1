// Command addonctl installs and manages AnkiDroid JavaScript addons.
package main

import (
	"fmt"
	"os"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0-dev"

func main() {
	if err := newRootCmd(newApp()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
