//go:build linux

package region

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/nullptr-labs/memprobe/address"
)

// sharedMemFile is /proc/<pid>/mem shared by every lazy-read region of one
// Handler; it is closed once no matter how many regions release it.
type sharedMemFile struct {
	f        *os.File
	refs     int
	released bool
}

func (s *sharedMemFile) release() error {
	s.refs--
	if s.refs > 0 || s.released {
		return nil
	}
	s.released = true
	return s.f.Close()
}

// procMemProvider reads lazily through /proc/<pid>/mem on every access,
// used when LiveOptions.MMap is false.
type procMemProvider struct {
	shared *sharedMemFile
	base   address.Address
}

func (p *procMemProvider) ReadAt(buf []byte, offset int64) (int, error) {
	return p.shared.f.ReadAt(buf, int64(p.base)+offset)
}

func (p *procMemProvider) Close() error { return p.shared.release() }

// mmapProvider memory-maps a region's backing bytes once up front, used
// when LiveOptions.MMap is true. Reads never block once mapped.
type mmapProvider struct {
	data []byte
}

func (p *mmapProvider) ReadAt(buf []byte, offset int64) (int, error) {
	if offset < 0 || offset > int64(len(p.data)) {
		return 0, errors.New("mmapProvider: offset out of range")
	}
	n := copy(buf, p.data[offset:])
	if n < len(buf) {
		return n, errors.New("mmapProvider: short read")
	}
	return n, nil
}

func (p *mmapProvider) Close() error {
	if p.data == nil {
		return nil
	}
	err := unix.Munmap(p.data)
	p.data = nil
	return err
}

// LoadLive builds a Handler by reading a running process's region map and
// memory, via /proc/<pid>/maps and /proc/<pid>/mem (spec §6, POSIX path).
func LoadLive(opts LiveOptions) (*Handler, error) {
	platform := opts.Platform
	if platform.PointerWidth == 0 {
		platform = hostPlatform()
	}

	mapsPath := fmt.Sprintf("/proc/%d/maps", opts.PID)
	mf, err := os.Open(mapsPath)
	if err != nil {
		if os.IsPermission(err) {
			return nil, errors.Wrapf(ErrAccessDenied, "opening %s: %v", mapsPath, err)
		}
		return nil, errors.Wrapf(ErrIO, "opening %s: %v", mapsPath, err)
	}
	defer mf.Close()

	memPath := fmt.Sprintf("/proc/%d/mem", opts.PID)
	memFile, err := os.Open(memPath)
	if err != nil {
		if os.IsPermission(err) {
			return nil, errors.Wrapf(ErrAccessDenied, "opening %s: %v", memPath, err)
		}
		return nil, errors.Wrapf(ErrIO, "opening %s: %v", memPath, err)
	}

	shared := &sharedMemFile{f: memFile}

	var regions []*Region
	scanner := bufio.NewScanner(mf)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec, err := parseManifestLine(line)
		if err != nil {
			continue // non-fatal: skip lines /proc emits that we don't need (e.g. [vsyscall] oddities)
		}
		if rec.perm&Read == 0 {
			continue // unreadable regions cannot back a ByteProvider
		}

		var provider ByteProvider
		size := rec.end.Sub(rec.start)
		if opts.MMap {
			data, err := unix.Mmap(int(memFile.Fd()), int64(rec.start), int(size), unix.PROT_READ, unix.MAP_SHARED)
			if err != nil {
				continue // region disappeared or isn't mmap-able through /proc/pid/mem; skip it
			}
			provider = &mmapProvider{data: data}
		} else {
			shared.refs++
			provider = &procMemProvider{shared: shared, base: rec.start}
		}

		r, err := New(rec.start, rec.end, rec.perm, rec.pathname, provider)
		if err != nil {
			continue
		}
		regions = append(regions, r)
	}
	if err := scanner.Err(); err != nil {
		memFile.Close()
		return nil, errors.Wrapf(ErrIO, "reading %s: %v", mapsPath, err)
	}
	if shared.refs == 0 && !opts.MMap {
		// No lazy-read regions were kept; nothing else owns memFile.
		memFile.Close()
	}

	h, err := NewHandler(platform, regions)
	if err != nil {
		memFile.Close()
		return nil, err
	}
	return h, nil
}
