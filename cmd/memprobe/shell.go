package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/nullptr-labs/memprobe"
	"github.com/nullptr-labs/memprobe/address"
	"github.com/nullptr-labs/memprobe/heap"
	"github.com/nullptr-labs/memprobe/record"
	"github.com/nullptr-labs/memprobe/region"
	"github.com/nullptr-labs/memprobe/search"
)

// addShellCommand registers "memprobe shell", an interactive REPL for
// running repeated scans against one already-loaded Memory Handler without
// re-parsing the source flags each time — the ogle lineage's read-eval-print
// loop applied to memprobe's own commands instead of ogle's RPC calls.
func addShellCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive REPL for repeated search/heap-list queries against one target",
		RunE:  runShell,
	}
	parent.AddCommand(cmd)
}

func runShell(cmd *cobra.Command, args []string) error {
	h, err := openHandler()
	if err != nil {
		return err
	}
	defer h.Close()

	rl, err := readline.New("memprobe> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	reg := record.NewRegistry()
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "memprobe shell — commands: search [hint], heap-list, dump, quit")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "dump":
			shellDump(out, h)
		case "heap-list":
			shellHeapList(out, h)
		case "search":
			var hint string
			if len(fields) > 1 {
				hint = fields[1]
			}
			shellSearch(out, h, reg, hint)
		case "help":
			fmt.Fprintln(out, "commands: search [hint], heap-list, dump, quit")
		default:
			fmt.Fprintf(out, "unknown command %q\n", fields[0])
		}
	}
}

func shellDump(out io.Writer, h *region.Handler) {
	for _, r := range h.Regions() {
		fmt.Fprintf(out, "%016x-%016x %s %s\n", uint64(r.Start()), uint64(r.End()), r.Perm(), r.Pathname())
	}
}

func shellHeapList(out io.Writer, h *region.Handler) {
	f := heap.NewFinder(h, heap.Win7, nil)
	walkers, err := f.ListHeapWalkers(context.Background())
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	for _, w := range walkers {
		allocs, _ := w.UserAllocations()
		frees, _ := w.FreeChunks()
		fmt.Fprintf(out, "heap 0x%x: frontend=%d allocated=%d free=%d\n",
			uint64(w.Address()), w.FrontEndHeapType(), len(allocs), len(frees))
	}
}

func shellSearch(out io.Writer, h *region.Handler, reg *record.Registry, hint string) {
	t := demoNodeType(h.Platform().PointerWidth)
	if _, ok := reg.Lookup(t.Name, t.PointerWidth); !ok {
		if err := reg.Register(t); err != nil {
			fmt.Fprintln(out, err)
			return
		}
	}
	opts := search.Options{}
	if hint != "" {
		var a uint64
		if _, err := fmt.Sscanf(hint, "0x%x", &a); err != nil {
			fmt.Fprintf(out, "bad hint %q\n", hint)
			return
		}
		addr := address.Address(a)
		opts.Hint = &addr
	}
	results, err := memprobe.SearchRecord(context.Background(), h, reg, t, nil, opts)
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "no results")
		return
	}
	text, err := memprobe.OutputToString(results)
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	fmt.Fprint(out, text)
}
