// cmd/shellexec/main.go
//
// Entry point of the shellexec CLI. All commands live in internal/cli; main
// only maps the returned error to an exit code.

package main

import (
	"fmt"
	"os"

	"github.com/kingrea/shellexec/internal/cli"
)

func main() {
	if err := cli.NewCmdRoot().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
