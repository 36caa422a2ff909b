package region

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nullptr-labs/memprobe/address"
	"github.com/nullptr-labs/memprobe/arch"
)

// DumpOptions configures the dump-directory Region Loader backend (spec
// §4.D / §6).
type DumpOptions struct {
	// Dir is the dump directory. It must contain a text manifest (named
	// "mappings" or "_memory_handler") and one backing file per region
	// named "<start_hex>-<end_hex>".
	Dir string
	// Platform overrides the target architecture, since a dump carries no
	// architecture metadata of its own (spec §4.D).
	Platform arch.Platform
}

var manifestNames = []string{"mappings", "_memory_handler"}

// fileProvider is a ByteProvider backed by a single on-disk file opened for
// random-access reads, used by both the dump-directory and raw-file
// backends.
type fileProvider struct {
	f *os.File
}

func (fp *fileProvider) ReadAt(p []byte, offset int64) (int, error) {
	return fp.f.ReadAt(p, offset)
}

func (fp *fileProvider) Close() error {
	return fp.f.Close()
}

// LoadDump builds a Handler from a dump directory (spec §4.D, §6).
func LoadDump(opts DumpOptions) (*Handler, error) {
	manifestPath, err := findManifest(opts.Dir)
	if err != nil {
		return nil, err
	}
	mf, err := os.Open(manifestPath)
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptDump, "opening manifest: %v", err)
	}
	defer mf.Close()

	var regions []*Region
	scanner := bufio.NewScanner(mf)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rec, err := parseManifestLine(line)
		if err != nil {
			return nil, errors.Wrapf(ErrCorruptDump, "manifest line %d: %v", lineNo, err)
		}
		backingPath := filepath.Join(opts.Dir, fmt.Sprintf("%x-%x", uint64(rec.start), uint64(rec.end)))
		fi, err := os.Stat(backingPath)
		if err != nil {
			return nil, errors.Wrapf(ErrCorruptDump, "backing file %s: %v", backingPath, err)
		}
		want := rec.end.Sub(rec.start)
		if fi.Size() != want {
			return nil, errors.Wrapf(ErrCorruptDump, "backing file %s: size %d, want %d", backingPath, fi.Size(), want)
		}
		f, err := os.Open(backingPath)
		if err != nil {
			return nil, errors.Wrapf(ErrCorruptDump, "opening backing file %s: %v", backingPath, err)
		}
		r, err := New(rec.start, rec.end, rec.perm, rec.pathname, &fileProvider{f: f})
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(ErrCorruptDump, "region [%x,%x): %v", rec.start, rec.end, err)
		}
		regions = append(regions, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(ErrCorruptDump, "reading manifest: %v", err)
	}

	return NewHandler(opts.Platform, regions)
}

func findManifest(dir string) (string, error) {
	for _, name := range manifestNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", errors.Wrapf(ErrCorruptDump, "no manifest (%s) found in %s", strings.Join(manifestNames, " or "), dir)
}

type manifestRecord struct {
	start, end address.Address
	perm       Perm
	pathname   string
}

// parseManifestLine decodes one non-blank, non-comment manifest line:
//
//	start-end perms offset device inode pathname
//
// mirroring /proc/<pid>/maps, the format spec §6 specifies for dumps.
func parseManifestLine(line string) (manifestRecord, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return manifestRecord{}, fmt.Errorf("expected at least 5 fields, got %d", len(fields))
	}
	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return manifestRecord{}, fmt.Errorf("bad start-end field %q", fields[0])
	}
	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return manifestRecord{}, fmt.Errorf("bad start address %q: %v", addrs[0], err)
	}
	end, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return manifestRecord{}, fmt.Errorf("bad end address %q: %v", addrs[1], err)
	}
	perm, err := ParsePerm(fields[1])
	if err != nil {
		return manifestRecord{}, err
	}
	pathname := ""
	if len(fields) >= 6 {
		pathname = strings.Join(fields[5:], " ")
	}
	return manifestRecord{
		start:    address.Address(start),
		end:      address.Address(end),
		perm:     perm,
		pathname: pathname,
	}, nil
}
