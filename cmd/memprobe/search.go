package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nullptr-labs/memprobe"
	"github.com/nullptr-labs/memprobe/address"
	"github.com/nullptr-labs/memprobe/record"
	"github.com/nullptr-labs/memprobe/search"
)

var (
	searchHintFlag  string
	searchLimitFlag int
	searchDepthFlag int
)

// demoNodeType is the self-referential Node record from spec §8 scenario 1
// ("u32 val1 = 0xDEADBEEF; void* ptr2 = &self"), the only record type this
// demo front end knows how to search for — loading arbitrary user record
// definitions from external modules is explicitly out of scope (spec §1).
func demoNodeType(pointerWidth int) *record.Type {
	return &record.Type{
		Name:         "demo.Node",
		PointerWidth: pointerWidth,
		Size:         int64(pointerWidth) + 4,
		Fields: []record.Field{
			{Name: "val1", Offset: 0, Width: 4, Kind: record.KindInteger,
				Constraint: &record.Constraint{Kind: record.ConstraintEquals, Literal: 0xDEADBEEF}},
			{Name: "ptr2", Offset: 4, Width: int64(pointerWidth), Kind: record.KindPointer, Weak: true},
		},
	}
}

func addSearchCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search the target for instances of the built-in demo record type",
		RunE:  runSearch,
	}
	cmd.Flags().StringVar(&searchHintFlag, "hint", "", "hex address to confine the search to its containing region")
	cmd.Flags().IntVar(&searchLimitFlag, "limit", search.Unbounded, "maximum number of results (-1 for unbounded)")
	cmd.Flags().IntVar(&searchDepthFlag, "depth", 0, "validation recursion depth (0 selects the default)")
	parent.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	h, err := openHandler()
	if err != nil {
		return err
	}
	defer h.Close()

	log := newLogger()
	reg := record.NewRegistry()
	t := demoNodeType(h.Platform().PointerWidth)
	if err := reg.Register(t); err != nil {
		return err
	}

	opts := search.Options{Limit: searchLimitFlag, Depth: searchDepthFlag}
	if searchHintFlag != "" {
		var a uint64
		if _, err := fmt.Sscanf(searchHintFlag, "0x%x", &a); err != nil {
			return fmt.Errorf("%w: bad --hint value %q", errUsage, searchHintFlag)
		}
		addr := address.Address(a)
		opts.Hint = &addr
	}

	results, err := memprobe.SearchRecord(context.Background(), h, reg, t, log, opts)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return errNoResults
	}
	text, err := memprobe.OutputToString(results)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), text)
	return nil
}
