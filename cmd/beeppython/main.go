// Command beeppython operates a local Python runtime host: bootstrapping
// embedded interpreters, managing the runtime registry and virtual
// environments, opening sessions, installing packages, and running code
// against a session with live progress.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
