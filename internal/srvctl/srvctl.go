// Package srvctl implements the service lifecycle operations the srvctl
// CLI exposes: the operator-facing counterpart to the monitor and
// scanner state machines, used to activate, deactivate, and signal
// individual services.
package srvctl

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/samitolvanen/ngim/internal/control"
	"github.com/samitolvanen/ngim/internal/fifo"
	"github.com/samitolvanen/ngim/internal/layout"
	"github.com/samitolvanen/ngim/internal/statusfile"
	"github.com/samitolvanen/ngim/internal/tai"
)

// Controller operates on services rooted at Base.
type Controller struct {
	Base layout.Base
}

// New returns a Controller rooted at base.
func New(base string) *Controller {
	return &Controller{Base: layout.Base(base)}
}

func (c *Controller) serviceLayout(name string) layout.ServiceLayout {
	return layout.ServiceLayout{Root: c.Base.ServiceDir(name)}
}

// realname resolves the basename of an active/ symlink's target, i.e. the
// service's true name in all/ (service_realname).
func (c *Controller) realname(linkName string) (string, error) {
	target, err := os.Readlink(c.Base.ActiveLink(linkName))
	if err != nil {
		return "", fmt.Errorf("srvctl: resolve %s: %w", linkName, err)
	}
	return filepath.Base(target), nil
}

// linkName returns the active-link name a service should use: its
// priority file's contents if present and valid, else its own name
// (service_linkname).
func (c *Controller) linkName(name string) string {
	if p, ok := layout.ReadPriority(c.Base.ServiceDir(name)); ok {
		return p
	}
	return name
}

// Exists reports whether base/all/name exists and is a directory
// (service_exists).
func (c *Controller) Exists(name string) bool {
	info, err := os.Stat(c.Base.ServiceDir(name))
	return err == nil && info.IsDir()
}

// fileExists reports whether base/all/name/file exists (service_file_exists).
func (c *Controller) fileExists(name, file string) bool {
	_, err := os.Stat(filepath.Join(c.Base.ServiceDir(name), file))
	return err == nil
}

// Active reports whether name has a symlink in active/ pointing to it
// (service_active).
func (c *Controller) Active(name string) bool {
	dents, err := os.ReadDir(c.Base.ActiveDir())
	if err != nil {
		return false
	}
	for _, d := range dents {
		if d.Type()&os.ModeSymlink == 0 || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		real, err := c.realname(d.Name())
		if err == nil && real == name {
			return true
		}
	}
	return false
}

// WantUp reports whether base/all/name/monitor/up exists, i.e. the
// monitor will restart the service's run script when it dies.
func (c *Controller) WantUp(name string) bool {
	_, err := os.Stat(c.serviceLayout(name).UpPath())
	return err == nil
}

// CreateUp ensures monitor/ exists and creates an empty up file
// (service_create_up).
func (c *Controller) CreateUp(name string) error {
	sl := c.serviceLayout(name)
	if err := os.MkdirAll(sl.MonitorDir(), layout.PermDirMonitor); err != nil {
		return fmt.Errorf("srvctl: mkdir %s: %w", sl.MonitorDir(), err)
	}
	f, err := os.OpenFile(sl.UpPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, layout.PermFileUp)
	if err != nil {
		return fmt.Errorf("srvctl: create %s: %w", sl.UpPath(), err)
	}
	return f.Close()
}

// RemoveUp removes monitor/up if present (service_remove_up).
func (c *Controller) RemoveUp(name string) error {
	err := os.Remove(c.serviceLayout(name).UpPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("srvctl: remove up for %s: %w", name, err)
	}
	return nil
}

// Add creates the active/ symlink for name (service_add).
func (c *Controller) Add(name string) error {
	if err := os.MkdirAll(c.Base.ActiveDir(), layout.PermDirActive); err != nil {
		return fmt.Errorf("srvctl: mkdir %s: %w", c.Base.ActiveDir(), err)
	}
	newPath := c.Base.ActiveLink(c.linkName(name))
	oldPath := filepath.Join("..", layout.DirAll, name)
	if err := os.Symlink(oldPath, newPath); err != nil {
		return fmt.Errorf("srvctl: activate %s: %w", name, err)
	}
	return nil
}

// Remove removes name's active/ symlink if present (service_remove).
func (c *Controller) Remove(name string) error {
	path := c.Base.ActiveLink(c.linkName(name))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("srvctl: remove symlink %s: %w", path, err)
	}
	return nil
}

// SetPriority sets name's scanning priority, re-activating it under the
// new link name if it was already active, matching service_priority's
// remove-then-rewrite-then-readd sequence (which keeps the service
// continuously findable by its directory, not its transient link name).
func (c *Controller) SetPriority(name, priority string) error {
	active := c.Active(name)
	if active {
		if err := c.Remove(name); err != nil {
			return err
		}
	}
	path := filepath.Join(c.Base.ServiceDir(name), layout.FilePriority)
	err := os.WriteFile(path, []byte(priority), layout.PermFilePriority)
	if active {
		if addErr := c.Add(name); addErr != nil && err == nil {
			err = addErr
		}
	}
	if err != nil {
		return fmt.Errorf("srvctl: set priority for %s: %w", name, err)
	}
	return nil
}

// ValidPriority reports whether s is entirely ASCII digits and within
// length, matching validate_cmdline's --priority check.
func ValidPriority(s string) bool {
	if len(s) == 0 || len(s) > 512 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// SendCommand writes a single control byte to name's control FIFO.
// When nonblocking is true, a monitor that isn't listening is treated
// as "not running" rather than an error — the right behavior for
// restart-style commands that shouldn't hang forever waiting for a
// dead monitor.
func (c *Controller) SendCommand(name string, cmd control.Command, nonblocking bool) error {
	path := c.serviceLayout(name).ControlPath()

	var f *os.File
	var err error
	if nonblocking {
		f, err = fifo.OpenWriteNonblock(path)
	} else {
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	}
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, syscall.ENXIO) {
			return nil // no monitor listening, not an error
		}
		return fmt.Errorf("srvctl: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write([]byte{byte(cmd)}); err != nil {
		return fmt.Errorf("srvctl: write command to %s: %w", path, err)
	}
	return nil
}

// Start activates name and nudges its monitor (command_action's cmd_start
// branch).
func (c *Controller) Start(name string) error {
	if c.Active(name) {
		return fmt.Errorf("srvctl: %s is already active", name)
	}
	if err := c.CreateUp(name); err != nil {
		return err
	}
	if err := c.Add(name); err != nil {
		return err
	}
	return c.SendCommand(name, control.Wakeup, false)
}

// Up marks an already-active service to restart when its run script dies.
func (c *Controller) Up(name string) error { return c.CreateUp(name) }

// Down marks an already-active service to not restart when its run
// script dies.
func (c *Controller) Down(name string) error { return c.RemoveUp(name) }

// Restart re-asserts up and has the monitor terminate both children
// (command_action's cmd_restart branch); the monitor respawns them
// because Up is still set.
func (c *Controller) Restart(name string) error {
	if err := c.CreateUp(name); err != nil {
		return err
	}
	return c.SendCommand(name, control.Kill, false)
}

// Stop deactivates name and terminates its monitor (command_action's
// cmd_stop branch).
func (c *Controller) Stop(name string) error {
	if err := c.RemoveUp(name); err != nil {
		return err
	}
	if err := c.Remove(name); err != nil {
		return err
	}
	return c.SendCommand(name, control.Terminate, true)
}

// Kill restarts both the service and its monitor (command_action's
// cmd_kill branch — the scanner will spawn a fresh monitor once the old
// one exits, since the active/ link survives).
func (c *Controller) Kill(name string) error {
	if err := c.CreateUp(name); err != nil {
		return err
	}
	return c.SendCommand(name, control.Terminate, true)
}

// Signal forwards sig to the service's run process via its monitor.
func (c *Controller) Signal(name string, sig control.Command) error {
	return c.SendCommand(name, sig, false)
}

// SigTerm is --down followed by --signal.
func (c *Controller) SigTerm(name string, sig control.Command) error {
	if err := c.RemoveUp(name); err != nil {
		return err
	}
	return c.SendCommand(name, sig, false)
}

// Term is SigTerm with SIGTERM specifically.
func (c *Controller) Term(name string) error {
	return c.SigTerm(name, control.EncodeSignal(syscall.SIGTERM))
}

// KillAll restarts every active service and its monitor concurrently
// (command_killall). The original loops sequentially; fanning the
// terminate-FIFO writes out concurrently is safe because each is an
// independent, non-blocking write to a distinct service's control FIFO.
func (c *Controller) KillAll() ([]string, error) {
	dents, err := os.ReadDir(c.Base.ActiveDir())
	if err != nil {
		return nil, fmt.Errorf("srvctl: open %s: %w", c.Base.ActiveDir(), err)
	}

	var names []string
	for _, d := range dents {
		if d.Type()&os.ModeSymlink == 0 || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		info, err := os.Stat(c.Base.ActiveLink(d.Name()))
		if err != nil || !info.IsDir() {
			continue
		}
		real, err := c.realname(d.Name())
		if err != nil {
			continue
		}
		names = append(names, real)
	}

	var g errgroup.Group
	for _, name := range names {
		name := name
		g.Go(func() error {
			return c.SendCommand(name, control.Terminate, true)
		})
	}
	return names, g.Wait()
}

// ListEntry describes one base/all entry for command_list.
type ListEntry struct {
	Name     string
	Active   bool
	HasRun   bool
	HasLog   bool
	Priority string // "not set" when no priority file overrides the name
}

// List enumerates every service under base/all (command_list).
func (c *Controller) List() ([]ListEntry, error) {
	dents, err := os.ReadDir(c.Base.AllDir())
	if err != nil {
		return nil, fmt.Errorf("srvctl: open %s: %w", c.Base.AllDir(), err)
	}
	var out []ListEntry
	for _, d := range dents {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		name := d.Name()
		priority := c.linkName(name)
		if priority == name {
			priority = "not set"
		}
		out = append(out, ListEntry{
			Name:     name,
			Active:   c.Active(name),
			HasRun:   c.fileExists(name, layout.FileRun),
			HasLog:   c.fileExists(name, layout.FileLog),
			Priority: priority,
		})
	}
	return out, nil
}

// StatusEntry describes one active service's parsed status file, for
// command_status.
type StatusEntry struct {
	Name      string
	RealName  string
	Updated   time.Time
	UpdatedOK bool
	Run       ProcInfo
	Log       ProcInfo
	Forward   bool
	Up        bool
}

// ProcInfo is a (pid, uptime) pair formatted the way format_proc does.
type ProcInfo struct {
	PID    uint32
	Uptime time.Duration
}

// Running reports whether this ProcInfo represents a live process.
func (p ProcInfo) Running() bool { return p.PID != 0 }

// String renders a ProcInfo the way STATUS_MESSAGE_RUNNING_FORMAT_{M,H,D}
// does, picking the coarsest unit that's nonzero.
func (p ProcInfo) String() string {
	if !p.Running() {
		return "not running"
	}
	d := p.Uptime
	days := int64(d.Hours()) / 24
	hours := int64(d.Hours()) % 24
	minutes := int64(d.Minutes()) % 60
	seconds := int64(d.Seconds()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("pid %d up %d d %d h %d min %d s", p.PID, days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("pid %d up %d h %d min %d s", p.PID, hours, minutes, seconds)
	default:
		return fmt.Sprintf("pid %d up %d min %d s", p.PID, minutes, seconds)
	}
}

// Status reads and parses every active service's monitor/status file
// (command_status + format_status). It does no time zone formatting:
// Updated is returned as a time.Time and the CLI applies --utc when
// printing it.
func (c *Controller) Status() ([]StatusEntry, error) {
	dents, err := os.ReadDir(c.Base.ActiveDir())
	if err != nil {
		return nil, fmt.Errorf("srvctl: open %s: %w", c.Base.ActiveDir(), err)
	}

	var out []StatusEntry
	for _, d := range dents {
		if d.Type()&os.ModeSymlink == 0 || strings.HasPrefix(d.Name(), ".") {
			continue
		}

		statusPath := filepath.Join(c.Base.ActiveLink(d.Name()), layout.DirLog, layout.FileStatus)
		buf, err := os.ReadFile(statusPath)
		if err != nil {
			continue
		}
		st, err := statusfile.Decode(buf)
		if err != nil {
			continue
		}

		real, err := c.realname(d.Name())
		if err != nil {
			real = d.Name()
		}

		now := tai.NowN()
		entry := StatusEntry{
			Name:     d.Name(),
			RealName: real,
			Forward:  st.Forward,
			Up:       c.WantUp(real),
		}
		entry.Updated = st.Updated.Time()
		entry.UpdatedOK = true
		entry.Run = ProcInfo{PID: st.RunPID, Uptime: uptime(st.RunChange, now)}
		entry.Log = ProcInfo{PID: st.LogPID, Uptime: uptime(st.LogChange, now)}
		out = append(out, entry)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func uptime(changed, now tai.Tain) time.Duration {
	if changed.Less(now) {
		return now.Time().Sub(changed.Time())
	}
	return 0
}

// ParsePriorityArg normalizes a --priority argument, applying
// ValidPriority's all-digits and length checks and also rejecting values
// that do not fit in a uint64.
func ParsePriorityArg(s string) (string, error) {
	if !ValidPriority(s) {
		return "", fmt.Errorf("srvctl: invalid value for --priority: %q", s)
	}
	if _, err := strconv.ParseUint(s, 10, 64); err != nil {
		return "", fmt.Errorf("srvctl: invalid value for --priority: %q", s)
	}
	return s, nil
}
