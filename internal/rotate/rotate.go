// Package rotate provides size-based rotation with numbered, optionally
// gzipped history for each daemon's own operational log file (the
// --log-file a scanner, monitor, or tainlog process writes its own
// diagnostics to). It is unrelated to internal/logwriter, which
// implements the TAI64N-archive scheme a supervised service's stdout is
// rotated into — a distinct naming and retention policy that must not
// be confused with this one.
//
// Same rotate-by-size-on-newline-boundary algorithm and numbered/gzip
// history as the ingestion platform's own rotating log writer, trimmed
// to the single-writer case these daemons need.
package rotate

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	mb = 1024 * 1024

	DefaultMaxSize    = 4 * mb
	DefaultMaxHistory = 3
	gzExt             = ".gz"
)

// ErrClosed is returned by Write/Close after Close has already run.
var ErrClosed = errors.New("rotate: already closed")

// File is a single rotating log destination.
type File struct {
	mu         sync.Mutex
	perm       os.FileMode
	path       string
	baseName   string
	ext        string
	out        *os.File
	size       int64
	maxSize    int64
	maxHistory uint
	compress   bool
}

// Options configures Open; the zero value uses the package defaults.
type Options struct {
	MaxSize    int64
	MaxHistory uint
	Compress   bool
}

// Open opens (creating if needed) the log at path for append, rotating
// immediately if it is already past its size threshold.
func Open(path string, perm os.FileMode, opts Options) (*File, error) {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.MaxHistory == 0 {
		opts.MaxHistory = DefaultMaxHistory
	}

	path = filepath.Clean(path)
	dir, name := filepath.Split(path)
	base, ext, ok := splitExt(name)
	if !ok || base == "" {
		return nil, fmt.Errorf("rotate: %s needs a filename with extension", path)
	}
	if dir == "" {
		dir = "."
	}

	out, sz, err := openAppend(path, perm)
	if err != nil {
		return nil, err
	}

	f := &File{
		perm:       perm,
		path:       path,
		baseName:   base,
		ext:        ext,
		out:        out,
		size:       sz,
		maxSize:    opts.MaxSize,
		maxHistory: opts.MaxHistory,
		compress:   opts.Compress,
	}
	if f.size >= f.maxSize {
		if err := f.rotateLocked(); err != nil {
			f.out.Close()
			return nil, fmt.Errorf("rotate: initial rotate of %s: %w", path, err)
		}
	}
	return f, nil
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out == nil {
		return ErrClosed
	}
	err := f.out.Close()
	f.out = nil
	return err
}

// Write appends b, rotating afterward if the file has grown past
// maxSize AND b ends on a line boundary (never split a line across
// rotation).
func (f *File) Write(b []byte) (int, error) {
	f.mu.Lock()
	n, err := f.out.Write(b)
	if err == nil {
		f.size += int64(n)
	}
	rotate := err == nil && f.size >= f.maxSize && endsInNewline(b)
	f.mu.Unlock()
	if rotate {
		if rerr := f.rotate(); rerr != nil {
			return n, rerr
		}
	}
	return n, err
}

func endsInNewline(b []byte) bool {
	return len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r')
}

func (f *File) rotate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rotateLocked()
}

func (f *File) rotateLocked() error {
	if f.maxHistory > 1 {
		if err := f.shiftHistoryLocked(); err != nil {
			return err
		}
	}
	return f.rollCurrentLocked()
}

type historyEntry struct {
	dir  string
	name string
	id   uint // 0 means "no numeric suffix yet" (shouldn't occur in history listing)
}

func (h historyEntry) origPath() string { return filepath.Join(h.dir, h.name) }

func (f *File) nameFor(id uint) string {
	ext := f.ext
	if f.compress {
		ext += gzExt
	}
	if id == 0 {
		return f.baseName + ext
	}
	return fmt.Sprintf("%s.%d%s", f.baseName, id, ext)
}

func (f *File) listHistoryLocked() ([]historyEntry, error) {
	dir, current := filepath.Split(f.path)
	if dir == "" {
		dir = "."
	}
	dents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []historyEntry
	for _, d := range dents {
		if !d.Type().IsRegular() || d.Name() == current {
			continue
		}
		base, _, id, ok := parseHistoryName(d.Name())
		if !ok || base != f.baseName {
			continue
		}
		out = append(out, historyEntry{dir: dir, name: d.Name(), id: id})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, nil
}

// parseHistoryName splits "foo.3.log.gz" into base="foo", ext=".log", id=3.
func parseHistoryName(name string) (base, ext string, id uint, ok bool) {
	rest := name
	if strings.HasSuffix(rest, gzExt) {
		rest = strings.TrimSuffix(rest, gzExt)
	}
	ext = filepath.Ext(rest)
	if ext == "" {
		return "", "", 0, false
	}
	rest = strings.TrimSuffix(rest, ext)
	if numExt := filepath.Ext(rest); numExt != "" {
		if n, err := strconv.ParseUint(strings.TrimPrefix(numExt, "."), 10, 32); err == nil {
			return strings.TrimSuffix(rest, numExt), ext, uint(n), true
		}
	}
	return rest, ext, 0, true
}

func (f *File) shiftHistoryLocked() error {
	hist, err := f.listHistoryLocked()
	if err != nil {
		return fmt.Errorf("rotate: list history for %s: %w", f.path, err)
	}
	keep := f.maxHistory
	if keep > 0 {
		keep--
	}
	if uint(len(hist)) >= keep {
		for _, h := range hist[keep:] {
			if err := os.Remove(h.origPath()); err != nil {
				return fmt.Errorf("rotate: remove %s: %w", h.origPath(), err)
			}
		}
		hist = hist[:keep]
	}
	for i := len(hist) - 1; i >= 0; i-- {
		h := hist[i]
		dst := filepath.Join(h.dir, f.nameFor(h.id+1))
		if err := os.Rename(h.origPath(), dst); err != nil {
			return fmt.Errorf("rotate: rename %s -> %s: %w", h.origPath(), dst, err)
		}
	}
	return nil
}

func (f *File) rollCurrentLocked() error {
	dir, _ := filepath.Split(f.path)
	if dir == "" {
		dir = "."
	}
	dst := filepath.Join(dir, f.nameFor(1))

	if err := f.out.Close(); err != nil {
		return fmt.Errorf("rotate: close %s: %w", f.path, err)
	}
	var err error
	if f.compress {
		err = compressFile(f.path, dst, f.perm)
		if err == nil {
			err = os.Remove(f.path)
		}
	} else {
		err = os.Rename(f.path, dst)
	}
	if err != nil {
		return err
	}
	f.out, f.size, err = openAppend(f.path, f.perm)
	return err
}

func openAppend(path string, perm os.FileMode) (*os.File, int64, error) {
	fout, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, perm)
	if err != nil {
		return nil, 0, err
	}
	sz, err := fout.Seek(0, io.SeekEnd)
	if err != nil {
		fout.Close()
		return nil, 0, fmt.Errorf("rotate: seek %s: %w", path, err)
	}
	return fout, sz, nil
}

func compressFile(src, dst string, perm os.FileMode) error {
	fin, err := os.Open(src)
	if err != nil {
		return err
	}
	defer fin.Close()
	fout, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer fout.Close()
	gw, err := gzip.NewWriterLevel(fout, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("rotate: gzip writer for %s: %w", dst, err)
	}
	if _, err := io.Copy(gw, fin); err != nil {
		return fmt.Errorf("rotate: compress %s -> %s: %w", src, dst, err)
	}
	return gw.Close()
}

func splitExt(name string) (base, ext string, ok bool) {
	ext = filepath.Ext(name)
	if ext == "" {
		return name, "", false
	}
	return strings.TrimSuffix(name, ext), ext, true
}
