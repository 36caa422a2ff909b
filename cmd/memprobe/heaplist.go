package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nullptr-labs/memprobe/heap"
)

var heapVersionFlag string

func addHeapListCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "heap-list",
		Short: "Scan the target for Windows heap signatures and list each heap's chunk partition",
		RunE:  runHeapList,
	}
	cmd.Flags().StringVar(&heapVersionFlag, "windows-version", "win7", "LFH layout table: win7 or win8plus")
	parent.AddCommand(cmd)
}

func runHeapList(cmd *cobra.Command, args []string) error {
	h, err := openHandler()
	if err != nil {
		return err
	}
	defer h.Close()

	version := heap.Win7
	if heapVersionFlag == "win8plus" {
		version = heap.Win8Plus
	}

	f := heap.NewFinder(h, version, newLogger())
	walkers, err := f.ListHeapWalkers(context.Background())
	if err != nil {
		return err
	}
	if len(walkers) == 0 {
		return errNoResults
	}

	out := cmd.OutOrStdout()
	for _, w := range walkers {
		allocs, err := w.UserAllocations()
		if err != nil {
			fmt.Fprintf(out, "heap 0x%x: %v\n", uint64(w.Address()), err)
			continue
		}
		frees, err := w.FreeChunks()
		if err != nil {
			fmt.Fprintf(out, "heap 0x%x: %v\n", uint64(w.Address()), err)
			continue
		}
		fmt.Fprintf(out, "heap 0x%x: frontend=%d allocated=%d free=%d\n",
			uint64(w.Address()), w.FrontEndHeapType(), len(allocs), len(frees))
	}
	return nil
}
