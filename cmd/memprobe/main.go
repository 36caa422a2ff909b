// Command memprobe is a thin demonstration front end over the memprobe
// library: load a dump directory, a raw file, or a live PID into a Memory
// Handler, then search for records or enumerate Windows heaps. The CLI
// itself, its argument parsing, and its output formats are explicitly out
// of scope for the core (spec §1) — this package exists only to exercise
// the library end to end, the way the teacher's cmd/viewcore exercises
// golang.org/x/debug.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
