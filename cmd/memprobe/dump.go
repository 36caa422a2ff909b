package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// addDumpCommand registers "memprobe dump", which loads whichever source
// was given and prints its region list — the demo-front-end analogue of
// viewcore's "mappings" command. Writing a new dump from a live process is
// explicitly out of scope (spec §1: "the process-dumping subprocess... is
// an external collaborator"); this only ever reads one.
func addDumpCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the region list of the target (dump directory, raw file, or live PID)",
		RunE:  runDump,
	}
	parent.AddCommand(cmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	h, err := openHandler()
	if err != nil {
		return err
	}
	defer h.Close()

	out := cmd.OutOrStdout()
	for _, r := range h.Regions() {
		fmt.Fprintf(out, "%016x-%016x %s %s\n", uint64(r.Start()), uint64(r.End()), r.Perm(), r.Pathname())
	}
	return nil
}
