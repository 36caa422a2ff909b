package region

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/nullptr-labs/memprobe/address"
	"github.com/nullptr-labs/memprobe/arch"
)

// RawFileOptions configures the single-raw-file Region Loader backend
// (spec §4.D / §6): one contiguous file treated as one region starting at
// BaseOffset, with permissions rw-p and pathname equal to the file name.
type RawFileOptions struct {
	Path       string
	BaseOffset address.Address
	Platform   arch.Platform
}

// LoadRawFile builds a single-region Handler from one file.
func LoadRawFile(opts RawFileOptions) (*Handler, error) {
	f, err := os.Open(opts.Path)
	if err != nil {
		return nil, errors.Wrapf(ErrIO, "opening raw file %s: %v", opts.Path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(ErrIO, "stat raw file %s: %v", opts.Path, err)
	}
	start := opts.BaseOffset
	end := start.Add(fi.Size())
	r, err := New(start, end, Read|Write, filepath.Base(opts.Path), &fileProvider{f: f})
	if err != nil {
		f.Close()
		return nil, err
	}
	return NewHandler(opts.Platform, []*Region{r})
}
