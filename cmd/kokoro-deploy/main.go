// main package for the kokoro-deploy CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/book-expert/kokoro-deploy/cmd/kokoro-deploy/commands"
)

func main() {
	err := commands.Root().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a failure to the process exit status. When a child command
// failed somewhere in the chain, its own exit status is propagated so callers
// can tell an engine failure from a provisioning one.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		return exitErr.ExitCode()
	}

	return 1
}
