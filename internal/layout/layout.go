// Package layout centralizes the on-disk naming and permission
// conventions shared by every binary in the toolkit (scanner, monitor,
// tainlog, srvctl) — the filesystem *is* the configuration surface for
// this system, so there is no config-file parser to centralize instead.
package layout

import (
	"os"
	"path/filepath"
)

// Directory and file names, relative to their parent as laid out in
// srvctl.h's comment block.
const (
	DirActive = "active"
	DirAll    = "all"
	DirLog    = "monitor" // ambiguous historical name kept for fidelity: this is monitor/, not a log dir
	FileLock  = "lock"
	FileUp    = "up"
	FileCtrl  = "control"
	FileStdin = "stdin"

	DefaultLogDir = "tainlog"
	FileCurrent   = "current"

	FileRun      = "run"
	FileLog      = "log"
	FilePriority = "priority"

	FileStatus = "status"
)

// Permissions, per srvctl.h's FPROT_* constants.
const (
	PermDirActive  os.FileMode = 0755
	PermDirMonitor os.FileMode = 0750
	PermDirLogDir  os.FileMode = 0750

	PermFileLock     os.FileMode = 0600
	PermFileUp       os.FileMode = 0600
	PermPipeControl  os.FileMode = 0600
	PermPipeStdin    os.FileMode = 0600
	PermFileStatus   os.FileMode = 0640
	PermFilePriority os.FileMode = 0640
	PermFileCurrent  os.FileMode = 0640
)

// Base is a resolved service base directory.
type Base string

func (b Base) ActiveDir() string  { return filepath.Join(string(b), DirActive) }
func (b Base) AllDir() string     { return filepath.Join(string(b), DirAll) }
func (b Base) ServiceDir(name string) string {
	return filepath.Join(b.AllDir(), name)
}
func (b Base) ActiveLink(linkName string) string {
	return filepath.Join(b.ActiveDir(), linkName)
}

// ServiceLayout resolves every path relevant to a single service directory
// (the argument monitor and tainlog are invoked with).
type ServiceLayout struct {
	Root string // e.g. B/all/foo
}

func (s ServiceLayout) RunPath() string      { return filepath.Join(s.Root, FileRun) }
func (s ServiceLayout) LogPath() string      { return filepath.Join(s.Root, FileLog) }
func (s ServiceLayout) PriorityPath() string { return filepath.Join(s.Root, FilePriority) }
func (s ServiceLayout) MonitorDir() string   { return filepath.Join(s.Root, DirLog) }
func (s ServiceLayout) LockPath() string     { return filepath.Join(s.MonitorDir(), FileLock) }
func (s ServiceLayout) UpPath() string       { return filepath.Join(s.MonitorDir(), FileUp) }
func (s ServiceLayout) StatusPath() string   { return filepath.Join(s.MonitorDir(), FileStatus) }
func (s ServiceLayout) ControlPath() string  { return filepath.Join(s.MonitorDir(), FileCtrl) }
func (s ServiceLayout) StdinPath() string    { return filepath.Join(s.MonitorDir(), FileStdin) }
func (s ServiceLayout) LogDir(subdir string) string {
	if subdir == "" {
		subdir = DefaultLogDir
	}
	return filepath.Join(s.Root, subdir)
}

// ReadPriority reads the optional priority file; ok is false if the file is
// absent, empty, or not all-digits, in which case the caller should fall
// back to the service's own name for the active-link name.
func ReadPriority(root string) (name string, ok bool) {
	b, err := os.ReadFile(filepath.Join(root, FilePriority))
	if err != nil {
		return "", false
	}
	s := string(b)
	// Trim trailing newline characters, the common case for hand-edited files.
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	if s == "" {
		return "", false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	return s, true
}

// EnsureDir creates dir with perm if it doesn't already exist, leaving
// existing permissions untouched (MONITOR_SET_PERMS_FOR_EXISTING=0 in the
// original): the permissions of a pre-existing directory are neither
// checked nor changed.
func EnsureDir(dir string, perm os.FileMode) error {
	if err := os.Mkdir(dir, perm); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}
