// Package scanner implements the fleet control loop: it watches a base
// directory's active/ subdirectory for service symlinks and keeps one
// monitor process running per entry, restarting the scan on a fixed
// interval and eagerly on filesystem change notifications.
//
// The service table is a plain Go map keyed on a comparable deviceInode
// struct, rather than a hand-rolled hash table. Dead monitors are
// reaped by one goroutine per spawned process blocking on Wait and
// reporting onto a channel the scan loop drains without blocking — the
// same pattern internal/supervisor uses for its own children, in place
// of a non-blocking poll loop.
//
// An fsnotify watch on active/ wakes the scan loop immediately on
// symlink creation/removal instead of waiting out the full poll
// interval.
package scanner

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/samitolvanen/ngim/internal/gwlog"
)

// Tuning parameters for the fleet loop.
const (
	MaxServices  = 128 // cap on concurrently-monitored services
	PauseScanner = 5 * time.Second
	PauseMonitor = 1 * time.Second
	ValueNameLen = 80 // max display-name length before truncation
)

// MonitorProgram is the path to the monitor binary, overridable for
// testing (the monitor binary is otherwise resolved via PATH).
var MonitorProgram = "monitor"

type deviceInode struct {
	dev uint64
	ino uint64
}

// service is the per-entry bookkeeping record held in the active table: pid is
// nonzero while a monitor is running for this entry, active is reset to
// false at the start of each scan and set back to true when the entry's
// symlink is still present, and name is the link's resolved basename, used
// in log messages and passed to the monitor as its display name.
type service struct {
	pid    int
	active bool
	name   string
}

type monitorExit struct {
	key  deviceInode
	pid  int
	err  error
}

// Scanner drives the scan loop for a single base directory.
type Scanner struct {
	root string
	lg   *gwlog.Logger

	services map[deviceInode]*service
	doneCh   chan monitorExit

	stop bool
}

// New constructs a Scanner rooted at base; base/active is watched for
// service symlinks.
func New(root string, lg *gwlog.Logger) *Scanner {
	return &Scanner{
		root:     root,
		lg:       lg,
		services: make(map[deviceInode]*service),
		doneCh:   make(chan monitorExit, MaxServices),
	}
}

// truncateName enforces the fixed ValueNameLen-1 display-name limit,
// appending a trailing "..." marker when a name is cut.
func truncateName(name string) string {
	if len(name) < ValueNameLen {
		return name
	}
	cut := ValueNameLen - 4
	if cut < 0 {
		cut = 0
	}
	return name[:cut] + "..."
}

// createEntry registers a newly-seen service directory in the table,
// refusing once MaxServices is reached.
func (s *Scanner) createEntry(key deviceInode, linkName string) *service {
	if len(s.services) >= MaxServices {
		s.lg.Warnf("too many services, skipping %s", linkName)
		return nil
	}

	target, err := os.Readlink(linkName)
	if err != nil {
		s.lg.Warnf("failed to resolve symlink %s: %v", linkName, err)
		return nil
	}
	name := truncateName(filepath.Base(target))

	v := &service{name: name}
	s.services[key] = v
	return v
}

// startOne tries to start a monitor for one active/ entry. name is the
// symlink's own basename.
func (s *Scanner) startOne(name string) {
	info, err := os.Lstat(name)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		s.lg.Warnf("skipping %s", name)
		return
	}
	if name[0] == '.' {
		return
	}

	dirent, err := os.Stat(name)
	if err != nil {
		s.lg.Warnf("stat failed, skipping %s: %v", name, err)
		return
	}
	if !dirent.IsDir() {
		return
	}

	key := deviceInode{}
	if st, ok := dirent.Sys().(*syscall.Stat_t); ok {
		key = deviceInode{dev: uint64(st.Dev), ino: st.Ino}
	}

	v, exists := s.services[key]
	if exists {
		v.active = true
		if v.pid != 0 {
			// Already running.
			return
		}
	} else {
		v = s.createEntry(key, name)
		if v == nil {
			return
		}
		v.active = true
	}

	cmd := exec.Command(MonitorProgram, name, v.name)
	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		s.lg.Warnf("failed to start a monitor for %s: %v", v.name, err)
		return
	}

	v.pid = cmd.Process.Pid
	s.lg.Infof("started a monitor [pid %d] for %s", v.pid, v.name)

	proc := cmd.Process
	go func() {
		err := cmd.Wait()
		s.doneCh <- monitorExit{key: key, pid: proc.Pid, err: err}
	}()

	time.Sleep(PauseMonitor)
}

// clearServices is the mark-and-sweep pass: entries still marked active
// survive to the next scan with active reset to false; entries that were
// not found this round AND have no running monitor are dropped from the
// table entirely.
func (s *Scanner) clearServices() {
	for key, v := range s.services {
		if v.active {
			v.active = false
		} else if v.pid == 0 {
			delete(s.services, key)
		}
	}
}

// monitorDone marks the service whose monitor just exited as not running.
// A monitor should only ever exit when its directory was removed from
// active/; an exit for a still-active entry is logged as a warning so the
// next scan simply restarts it.
func (s *Scanner) monitorDone(e monitorExit) {
	for _, v := range s.services {
		if v.pid == e.pid {
			v.pid = 0
			s.lg.Warnf("monitor [pid %d] for %s exited: %v", e.pid, v.name, e.err)
			return
		}
	}
	s.lg.Warnf("unknown monitor [pid %d] exited", e.pid)
}

// drainDone reaps every monitor exit queued so far without blocking.
func (s *Scanner) drainDone() {
	for {
		select {
		case e := <-s.doneCh:
			s.monitorDone(e)
		default:
			return
		}
	}
}

// listActiveEntries reads and descending-sorts the entries of dir (the
// active/ directory) — descending by name, kept as-is
// rather than "fixed" to ascending (see DESIGN.md's Open Question
// decision on this point).
func (s *Scanner) listActiveEntries(dir string) ([]string, error) {
	dents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	var ignored int
	for _, d := range dents {
		if d.Name()[0] == '.' {
			continue
		}
		if len(names) >= MaxServices {
			ignored++
			continue
		}
		names = append(names, d.Name())
	}
	if ignored > 0 {
		s.lg.Warnf("reached %d services, ignoring the rest", MaxServices)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// scanOnce runs one iteration: reap dead monitors, start monitors for every
// active/ entry, and clear services whose directories disappeared.
func (s *Scanner) scanOnce(activeDir string) error {
	s.drainDone()

	names, err := s.listActiveEntries(activeDir)
	if err != nil {
		return fmt.Errorf("scanner: failed to open %s: %w", activeDir, err)
	}

	if err := os.Chdir(activeDir); err != nil {
		return fmt.Errorf("scanner: chdir to %s failed: %w", activeDir, err)
	}

	for _, name := range names {
		if s.stop {
			break
		}
		s.startOne(name)
	}
	s.clearServices()
	return nil
}

// Run scans root/active forever at PauseScanner intervals, waking early on
// fsnotify events and on SIGHUP/SIGINT/SIGQUIT/SIGTERM. SIGHUP is
// intentionally a no-op, kept only so the signal doesn't kill the process.
func (s *Scanner) Run() error {
	activeDir := filepath.Join(s.root, "active")
	if err := os.MkdirAll(activeDir, 0755); err != nil {
		return fmt.Errorf("scanner: mkdir %s: %w", activeDir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.lg.Warnf("fsnotify unavailable, falling back to polling only: %v", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(activeDir); err != nil {
			s.lg.Warnf("failed to watch %s: %v", activeDir, err)
		}
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	s.lg.Infof("scanning %s", activeDir)

	var watchEvents <-chan fsnotify.Event
	if watcher != nil {
		watchEvents = watcher.Events
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for !s.stop {
		if err := s.scanOnce(activeDir); err != nil {
			s.lg.Warnf("%v", err)
		}
		if s.stop {
			break
		}
		timer.Reset(PauseScanner)

	wait:
		for {
			select {
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGHUP:
					// Intentionally ignored.
				default:
					s.lg.Infof("received %v", sig)
					s.stop = true
					break wait
				}
			case e := <-s.doneCh:
				s.monitorDone(e)
			case ev, ok := <-watchEvents:
				if !ok {
					watchEvents = nil
					continue
				}
				_ = ev
				break wait
			case <-timer.C:
				break wait
			}
		}
	}

	s.lg.Criticalf("exiting")
	return nil
}
