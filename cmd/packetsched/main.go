// Command packetsched is the CLI entry point for the live task
// orchestrator: it wires the manifest loader, state store, policy engine,
// worker supervisor, and dispatch loop together and drives them to
// termination.
//
// Grounded on the CLI conventions of 88lin-divinesense and
// C360Studio-semspec (both built on github.com/spf13/cobra); the teacher
// itself has no CLI surface (control_plane/main.go wires an HTTP daemon
// from environment variables), so this file departs furthest from the
// teacher's own main.go in favor of the rest of the pack's idiom.
package main

import (
	"fmt"
	"os"

	"github.com/packetsched/packetsched/internal/obs"
)

func main() {
	log, err := obs.NewLogger(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "packetsched: failed to initialize logger: %v\n", err)
		os.Exit(2)
	}

	cmd := newRootCommand(log)
	execErr := cmd.Execute()
	code := exitCodeForError(execErr)

	_ = log.Sync() // best-effort flush; zap on a terminal fd routinely returns ENOTTY

	os.Exit(int(code))
}
