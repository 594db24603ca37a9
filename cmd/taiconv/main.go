// Command taiconv is a stdin/stdout (or single-file) filter that rewrites
// every TAI64/TAI64N textual label it finds into an ISO 8601 date and
// time string. By default only a label at the very start of a line is
// converted (the common case: tainlog-format archives); --all converts
// every occurrence anywhere in the stream.
//
// A single buffered byte-stream scanner handles both short and long
// inputs; there is no separate mmap fast path, since bufio.Reader
// already buffers efficiently without one.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/samitolvanen/ngim/internal/tai"
)

var (
	localTime = flag.Bool("local-time", false, "format times in the local time zone (default)")
	utc       = flag.Bool("utc", false, "format times in UTC")
	all       = flag.Bool("all", false, "convert every time stamp, not just the one starting each line")
)

func init() {
	flag.BoolVar(localTime, "l", false, "shorthand for -local-time")
	flag.BoolVar(utc, "u", false, "shorthand for -utc")
	flag.BoolVar(all, "a", false, "shorthand for -all")
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [--local-time (default) | --utc] [--all] [file]\n", os.Args[0])
	}
	flag.Parse()
	if flag.NArg() > 1 {
		flag.Usage()
		os.Exit(1)
	}
	if *localTime && *utc {
		fmt.Fprintln(os.Stderr, "invalid parameters: --local-time and --utc are mutually exclusive")
		os.Exit(1)
	}

	loc := time.Local
	if *utc {
		loc = time.UTC
	}

	in := os.Stdin
	if flag.NArg() == 1 {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open file %s: %v\n", flag.Arg(0), err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	if err := convertStream(in, os.Stdout, *all, loc); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write to stdout: %v\n", err)
		os.Exit(1)
	}
}

// isHexNibble matches taiconv.c's is_hex_nibble: lowercase hex digits
// only, since that's all FormatTain/FormatTai ever emit.
func isHexNibble(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}

// convertBuffer tries the longest valid label prefix of buf first
// (TAI64N, 25 bytes including '@'), then the shorter TAI64 form (17
// bytes), matching convert_buffer's preference order.
func convertBuffer(buf []byte, loc *time.Location) (formatted string, consumed int, ok bool) {
	if len(buf) >= tai.NFormatSize {
		if t, err := tai.ParseTain(string(buf[:tai.NFormatSize])); err == nil {
			return tai.FormatISO8601(t.Time(), loc), tai.NFormatSize, true
		}
	}
	if len(buf) >= tai.FormatSize {
		if t, err := tai.ParseTai(string(buf[:tai.FormatSize])); err == nil {
			return tai.FormatISO8601(t.Time(), loc), tai.FormatSize, true
		}
	}
	return "", 0, false
}

func flushBuffer(w *bufio.Writer, buf []byte, loc *time.Location) {
	if formatted, consumed, ok := convertBuffer(buf, loc); ok {
		w.WriteString(formatted)
		if consumed < len(buf) {
			w.Write(buf[consumed:])
		}
		return
	}
	w.Write(buf)
}

// convertStream implements both convert_read_all (all=true) and
// convert_read_nrm (all=false) as a single byte-at-a-time scanner: buf
// accumulates a candidate "@" + hex-digit run; any byte that can't
// extend it flushes the run (converted if valid, raw otherwise) before
// being handled itself.
func convertStream(r io.Reader, w io.Writer, all bool, loc *time.Location) error {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)

	var buf []byte
	atLineStart := true

	for {
		c, err := br.ReadByte()
		if err != nil {
			if len(buf) > 0 {
				flushBuffer(bw, buf, loc)
			}
			if err == io.EOF {
				return bw.Flush()
			}
			return err
		}

		if len(buf) > 0 {
			if isHexNibble(c) && len(buf) < tai.NFormatSize {
				buf = append(buf, c)
				continue
			}
			flushBuffer(bw, buf, loc)
			buf = nil
			atLineStart = c == '\n'
			if c == '@' && (all || atLineStart) {
				buf = append(buf, c)
				continue
			}
			if err := bw.WriteByte(c); err != nil {
				return err
			}
			continue
		}

		if c == '@' && (all || atLineStart) {
			buf = append(buf, c)
			continue
		}
		atLineStart = c == '\n'
		if err := bw.WriteByte(c); err != nil {
			return err
		}
	}
}
