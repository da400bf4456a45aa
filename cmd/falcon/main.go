// Command falcon is the CLI front end for the falcon topology harness.
package main

import (
	"os"

	"falcon/cmd/falcon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
