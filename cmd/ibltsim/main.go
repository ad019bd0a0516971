// Command ibltsim measures IBLT peeling thresholds, reconciliation and
// difference estimation on random key sets, and reconciles the lines of two
// files.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
)

func main() {
	if err := newRootCommand(afero.NewOsFs()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
