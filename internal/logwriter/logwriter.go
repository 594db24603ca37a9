// Package logwriter implements the TAI64N-stamped line logger that reads
// a supervised service's stdout and archives it to disk. Every aspect
// of the on-disk format — buffer layout, rotation trigger, and archive
// pruning — is fixed byte-for-byte, since it defines a wire/file format
// other tools (and operators with `tai64nlocal`-style utilities) depend
// on.
package logwriter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samitolvanen/ngim/internal/lockfile"
	"github.com/samitolvanen/ngim/internal/tai"
)

// Buffer size bounds for the per-line record.
const (
	DefaultBufSize = 148
	MinBufSize     = 60
	MaxBufSize     = 4096

	// BufferStart is the input start offset: the textual ("@"+24 hex
	// digits) TAI64N label occupies bytes [0, 25), the separator byte
	// sits at 25, and line data begins at 26.
	bufferSeparator = tai.NFormatSize
	BufferStart     = tai.NFormatSize + 1
)

// File size bounds for one archive file before rotation.
const (
	DefaultFileSize = 100000
	MinFileSize     = 1000
	MaxFileSize     = 100000000
)

// DefaultKeepNum is the default archive retention count; KeepNum < 0
// disables pruning entirely (the --keep-all flag).
const DefaultKeepNum = 10

const MaxKeepNum = 100000

// Options configures a Writer. Zero values are replaced with the
// package defaults by Open.
type Options struct {
	BufSize  int
	FileSize int64
	KeepNum  int // negative disables archive pruning
}

func (o *Options) setDefaults() {
	if o.BufSize == 0 {
		o.BufSize = DefaultBufSize
	}
	if o.FileSize == 0 {
		o.FileSize = DefaultFileSize
	}
	if o.KeepNum == 0 {
		o.KeepNum = DefaultKeepNum
	}
}

// ClampBufSize clamps a requested --line-buffer value into range. ok is
// false when clamping occurred, so the caller can log a warning.
func ClampBufSize(n int) (v int, ok bool) {
	switch {
	case n > MaxBufSize:
		return MaxBufSize, false
	case n < MinBufSize:
		return MinBufSize, false
	default:
		return n, true
	}
}

// ClampFileSize clamps a requested --logsize value into range.
func ClampFileSize(n int64) (v int64, ok bool) {
	switch {
	case n > MaxFileSize:
		return MaxFileSize, false
	case n < MinFileSize:
		return MinFileSize, false
	default:
		return n, true
	}
}

// ClampKeepNum clamps a requested --keep value into range. Negative
// values (or --keep-all) pass through unclamped to mean "never prune".
func ClampKeepNum(n int) (v int, ok bool) {
	if n < 0 {
		return -1, true
	}
	if n > MaxKeepNum {
		return MaxKeepNum, false
	}
	return n, true
}

// Writer archives stdin into TAI64N-named log files under dir.
type Writer struct {
	dir     string
	opts    Options
	current *os.File
	lock    *lockfile.Lock
	size    int64
	wrapped bool
}

// Open creates dir if needed, using explicit paths rather than chdir so
// a Writer can be driven from tests without touching the process's
// working directory, and opens (or creates) the "current" file inside it.
func Open(dir string, opts Options) (*Writer, error) {
	opts.setDefaults()
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("logwriter: mkdir %s: %w", dir, err)
	}
	w := &Writer{dir: dir, opts: opts}
	w.openCurrent()
	return w, nil
}

func (w *Writer) currentPath() string { return filepath.Join(w.dir, "current") }

// openCurrent opens (creating if absent) and locks "current". Failure
// leaves w.current nil; subsequent lines are discarded until a later
// call succeeds. No warning is emitted for a discarded line.
func (w *Writer) openCurrent() {
	if w.current != nil {
		return
	}
	path := w.currentPath()
	info, statErr := os.Stat(path)
	flags := os.O_WRONLY | os.O_APPEND
	if statErr != nil {
		if !os.IsNotExist(statErr) {
			return
		}
		flags = os.O_WRONLY | os.O_CREATE
	} else if !info.Mode().IsRegular() {
		return
	}
	f, err := os.OpenFile(path, flags, 0640)
	if err != nil {
		return
	}
	lk := lockfile.New(path)
	if err := lk.TryLock(); err != nil {
		f.Close()
		return
	}
	w.current = f
	w.lock = lk
	if statErr == nil {
		w.size = info.Size()
	} else {
		w.size = 0
	}
}

func (w *Writer) closeCurrent(stamp tai.Tain) {
	if w.current == nil {
		return
	}
	w.lock.Unlock()
	w.current.Close()
	w.current = nil

	name := stamp.Format()
	if err := os.Rename(w.currentPath(), filepath.Join(w.dir, name)); err != nil {
		// Renaming failed (e.g. name collision, concurrent remove); keep
		// appending to "current" and try again on the next rotation.
		return
	}
}

// flushArchive prunes archived files down to opts.KeepNum, removing the
// lexicographically (== chronologically, since names are TAI64N labels)
// oldest ones first. A no-op when KeepNum < 0.
func (w *Writer) flushArchive() {
	if w.opts.KeepNum < 0 {
		return
	}
	dents, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	var names []string
	for _, d := range dents {
		n := d.Name()
		if d.Type().IsRegular() && len(n) == tai.NFormatSize && n[0] == '@' {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	for len(names) > w.opts.KeepNum {
		if err := os.Remove(filepath.Join(w.dir, names[0])); err != nil {
			return
		}
		names = names[1:]
	}
}

// Append writes one line or line fragment (without its timestamp
// prefix; format terminates an unterminated fragment and marks the next
// record as its continuation) to the archive, stamping it with ts and rotating
// first if the current file would exceed opts.FileSize.
func (w *Writer) Append(line []byte, ts tai.Tain) {
	rec := format(line, ts, &w.wrapped, w.opts.BufSize)

	if w.current != nil && w.size+int64(len(rec)) > w.opts.FileSize {
		w.closeCurrent(ts)
		w.flushArchive()
	}
	w.openCurrent()

	if w.current == nil {
		return
	}
	n, err := w.current.Write(rec)
	w.size += int64(n)
	_ = err
}

// format prepends ts's textual TAI64N label and a wrap-indicator
// separator byte to line. *wrapped tracks whether the *previous* call's
// line lacked a trailing newline (meaning this call's line is itself a
// continuation).
func format(line []byte, ts tai.Tain, wrapped *bool, bufSize int) []byte {
	rec := make([]byte, BufferStart, BufferStart+len(line)+1)
	copy(rec, ts.Format())
	if *wrapped {
		rec[bufferSeparator] = '\t'
	} else {
		rec[bufferSeparator] = ' '
	}
	rec = append(rec, line...)

	endsInNL := len(rec) > 0 && rec[len(rec)-1] == '\n'
	*wrapped = !endsInNL
	if *wrapped {
		rec = append(rec, '\n')
	}
	if len(rec) > bufSize {
		rec = rec[:bufSize]
		if rec[len(rec)-1] != '\n' {
			rec[len(rec)-1] = '\n'
		}
	}
	return rec
}

// Close releases the lock on "current" without archiving it; the next
// Open picks up where this Writer left off.
func (w *Writer) Close() error {
	if w.current == nil {
		return nil
	}
	w.lock.Unlock()
	err := w.current.Close()
	w.current = nil
	return err
}

// payloadCap returns the most line content a single record can carry
// for the given bufSize: room for the BufferStart prefix and, since a
// buffer-full chunk is never newline-terminated, one more byte for the
// '\n' format appends to mark it wrapped.
func payloadCap(bufSize int) int {
	c := bufSize - BufferStart - 1
	if c < 1 {
		c = 1
	}
	return c
}

// readChunk reads the next record's worth of line content from br,
// stopping at a newline or after cap bytes, whichever comes first. The
// timestamp is captured when the chunk's first byte actually arrives,
// not before — a slow-writing service must not have its line stamped
// with the time the previous line finished.
func readChunk(br *bufio.Reader, cap int) ([]byte, tai.Tain, error) {
	b, err := br.ReadByte()
	if err != nil {
		return nil, tai.Tain{}, err
	}
	ts := tai.NowN()
	line := []byte{b}
	for len(line) < cap && b != '\n' {
		b, err = br.ReadByte()
		if err != nil {
			break
		}
		line = append(line, b)
	}
	return line, ts, err
}

// Run reads from r (a service's stdout pipe) until EOF, archiving each
// line. A line longer than the configured buffer is split across
// multiple records: each record but the line's last is marked wrapped,
// so a reader can reassemble the original line, and every record's
// timestamp reflects the arrival of its own first byte rather than the
// line's. It never returns early on a transient read error; it pauses
// and retries.
func Run(r io.Reader, w *Writer, bufSize int) error {
	br := bufio.NewReaderSize(r, bufSize)
	cap := payloadCap(bufSize)
	for {
		line, ts, err := readChunk(br, cap)
		if len(line) > 0 {
			w.Append(line, ts)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			time.Sleep(2 * time.Second)
		}
	}
}
