// Command ocictl is a thin manual-operation front end over this module's
// four library components (backend, graph, distribution, runtime). It
// exists so the registries can be exercised from a shell; it carries no
// business logic of its own.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
