// Package statusfile encodes and atomically persists the monitor/status
// snapshot that srvctl reads to report a service's state.
//
// Layout and field offsets match the on-disk status file a monitor has
// always written: three packed TAI64N timestamps (updated, run-changed,
// log-changed), two 4-byte host-byte-order PIDs, and a single
// forward-flag byte, for a total of 45 bytes.
package statusfile

import (
	"encoding/binary"
	"fmt"

	"github.com/dchest/safefile"
	"github.com/samitolvanen/ngim/internal/tai"
)

// Field offsets, matching srvctl.h exactly.
const (
	offUpdated = 0
	offChgRun  = offUpdated + tai.NPackSize
	offChgLog  = offChgRun + tai.NPackSize
	offPidRun  = offChgLog + tai.NPackSize
	offPidLog  = offPidRun + 4
	offForward = offPidLog + 4

	// Size is the total on-disk width of a status snapshot: 3 TAI64N
	// stamps, 2 PIDs, 1 flag byte.
	Size = offForward + 1
)

// Status mirrors the in-memory monitor.c run/log child_proc fields that
// feed write_status.
type Status struct {
	Updated   tai.Tain
	RunChange tai.Tain
	LogChange tai.Tain
	RunPID    uint32 // 0 if run is not currently running
	LogPID    uint32 // 0 if there is no log child configured/running
	Forward   bool   // true while run's stdout/stderr are piped into log
}

// Encode renders s into its 45-byte wire form.
func (s Status) Encode() []byte {
	buf := make([]byte, Size)
	s.Updated.Pack(buf[offUpdated:])
	s.RunChange.Pack(buf[offChgRun:])
	s.LogChange.Pack(buf[offChgLog:])
	putU32(buf[offPidRun:], s.RunPID)
	putU32(buf[offPidLog:], s.LogPID)
	if s.Forward {
		buf[offForward] = 1
	}
	return buf
}

// Decode parses a 45-byte status snapshot.
func Decode(buf []byte) (Status, error) {
	if len(buf) != Size {
		return Status{}, fmt.Errorf("statusfile: expected %d bytes, got %d", Size, len(buf))
	}
	var s Status
	var err error
	if s.Updated, err = tai.UnpackTain(buf[offUpdated : offUpdated+tai.NPackSize]); err != nil {
		return Status{}, err
	}
	if s.RunChange, err = tai.UnpackTain(buf[offChgRun : offChgRun+tai.NPackSize]); err != nil {
		return Status{}, err
	}
	if s.LogChange, err = tai.UnpackTain(buf[offChgLog : offChgLog+tai.NPackSize]); err != nil {
		return Status{}, err
	}
	s.RunPID = getU32(buf[offPidRun:])
	s.LogPID = getU32(buf[offPidLog:])
	s.Forward = buf[offForward] != 0
	return s, nil
}

// putU32/getU32 use the platform's native byte order deliberately,
// matching a raw unsigned-int pointer cast: a status file is only ever
// meaningful read back on the same host architecture it was written on.
func putU32(b []byte, v uint32) { binary.NativeEndian.PutUint32(b, v) }

func getU32(b []byte) uint32 { return binary.NativeEndian.Uint32(b) }

// Write atomically persists status to path (monitor/status), using a
// temp-file-then-rename so readers never observe a partial write.
func Write(path string, status Status) error {
	f, err := safefile.Create(path, 0640)
	if err != nil {
		return fmt.Errorf("statusfile: create: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(status.Encode()); err != nil {
		return fmt.Errorf("statusfile: write: %w", err)
	}
	return f.Commit()
}
