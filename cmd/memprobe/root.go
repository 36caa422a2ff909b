package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nullptr-labs/memprobe/address"
	"github.com/nullptr-labs/memprobe/arch"
	"github.com/nullptr-labs/memprobe/region"
)

// Exit codes from spec §6: "0 success with ≥1 result, 1 success with 0
// results, 2 usage error, 3 dump corruption, 4 target access denied, 5
// internal error."
const (
	exitOK           = 0
	exitNoResults    = 1
	exitUsage        = 2
	exitCorruptDump  = 3
	exitAccessDenied = 4
	exitInternal     = 5
)

// errNoResults signals a successful run that found nothing, distinct from
// exitOK per spec §6's exit-code table.
var errNoResults = errors.New("memprobe: no results")

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errNoResults):
		return exitNoResults
	case errors.Is(err, errUsage):
		return exitUsage
	case errors.Is(err, region.ErrCorruptDump):
		return exitCorruptDump
	case errors.Is(err, region.ErrAccessDenied):
		return exitAccessDenied
	default:
		return exitInternal
	}
}

var (
	verboseFlag  bool
	platformFlag string
	pidFlag      int
	dumpDirFlag  string
	rawFileFlag  string
	rawBaseFlag  int64
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "memprobe",
		Short:         "Search process memory and dumps for typed records and Windows heaps",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&platformFlag, "platform", "amd64", "target platform (i386, amd64, arm, arm64)")
	cmd.PersistentFlags().IntVar(&pidFlag, "pid", 0, "attach to a live process by PID")
	cmd.PersistentFlags().StringVar(&dumpDirFlag, "dump", "", "load a dump directory")
	cmd.PersistentFlags().StringVar(&rawFileFlag, "raw", "", "load a single raw memory file")
	cmd.PersistentFlags().Int64Var(&rawBaseFlag, "raw-base", 0, "base address for --raw")

	addSearchCommand(cmd)
	addHeapListCommand(cmd)
	addDumpCommand(cmd)
	addShellCommand(cmd)
	return cmd
}

func newLogger() *zap.Logger {
	if !verboseFlag {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// openHandler builds a Memory Handler from whichever source flag was given,
// in the order --dump, --raw, --pid (component D, the three Region Loader
// backends from spec §4.D).
func openHandler() (*region.Handler, error) {
	p, err := arch.ByName(platformFlag)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	switch {
	case dumpDirFlag != "":
		return region.LoadDump(region.DumpOptions{Dir: dumpDirFlag, Platform: p})
	case rawFileFlag != "":
		return region.LoadRawFile(region.RawFileOptions{Path: rawFileFlag, BaseOffset: address.Address(rawBaseFlag), Platform: p})
	case pidFlag != 0:
		return region.LoadLive(region.LiveOptions{PID: pidFlag, MMap: true, Platform: p})
	default:
		return nil, fmt.Errorf("%w: one of --dump, --raw, or --pid is required", errUsage)
	}
}

var errUsage = errors.New("memprobe: usage error")
