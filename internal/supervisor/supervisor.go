// Package supervisor implements the per-service monitor process: the
// state machine that starts and restarts a service's run and log
// children, answers control commands, and detects flapping children.
//
// Some supervisors use a self-pipe (here, the control FIFO itself) to
// make signal handlers async-signal-safe: a handler only ever writes
// one byte and the main loop's poll picks it up. Go's os/signal
// delivers signals on an ordinary goroutine already, so that trick is
// unnecessary here — signals are folded directly into the same
// select-driven event loop a child-exit notification or a control-FIFO
// byte arrives on. Likewise, alarm-based suspension timing is replaced
// with a time.Timer, and a non-blocking reap loop is replaced with one
// goroutine per running child that blocks in Cmd.Wait and reports onto
// a channel — the idiomatic Go equivalent of "poll for dead children".
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samitolvanen/ngim/internal/control"
	"github.com/samitolvanen/ngim/internal/fifo"
	"github.com/samitolvanen/ngim/internal/gwlog"
	"github.com/samitolvanen/ngim/internal/layout"
	"github.com/samitolvanen/ngim/internal/lockfile"
	"github.com/samitolvanen/ngim/internal/statusfile"
	"github.com/samitolvanen/ngim/internal/tai"
)

// Timing parameters, matching monitor.c's PAUSE_*/TIMER_*/CHILD_* constants.
const (
	pauseFailure     = 5 * time.Second
	pauseRespawn     = 1 * time.Second
	pauseTermwait    = 10 * time.Second
	timeoutPoll      = 3600 * time.Second
	timerChild       = 10 * time.Second
	childMaxStarts   = 2
	childSuspension  = 3
)

// terminationSignals is the escalation ladder terminate_child walks
// through, matching the PostgreSQL-derived scheme the original cites.
var terminationSignals = []syscall.Signal{
	syscall.SIGTERM, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGKILL,
}

// Child mirrors monitor.c's child_proc: a supervised run or log process.
type Child struct {
	ProgName         string
	cmd              *exec.Cmd
	pid              int
	Changed          tai.Tain
	Starts           uint32
	Suspended        bool
	SuspendedPeriods int
}

func (c *Child) running() bool { return c.pid != 0 }

// childExit is sent on doneCh when a supervised process's Cmd.Wait returns.
type childExit struct {
	child *Child
	err   error
}

// Supervisor runs the state machine for a single service directory.
type Supervisor struct {
	root   string
	lg     *gwlog.Logger
	layout layout.ServiceLayout

	lock         *lockfile.Lock
	controlFile  *os.File // held open read+write, so writers never see ENXIO
	stdinWriter  *os.File // held open read+write end of the stdin FIFO
	runlogRead   *os.File
	runlogWrite  *os.File

	run Child
	log Child

	flagForward bool
	flagIgnChld atomic.Bool
	flagIntr    atomic.Bool

	doneCh chan childExit
	ctrlCh chan control.Command
}

// New prepares a Supervisor for the service directory at root (an
// all/<name> path, or an active/ symlink to one as the scanner passes
// it). It does not start
// any children; call Run for that.
func New(root string, lg *gwlog.Logger) *Supervisor {
	return &Supervisor{
		root:   root,
		lg:     lg,
		layout: layout.ServiceLayout{Root: root},
		run:    Child{ProgName: layout.FileRun},
		log:    Child{ProgName: layout.FileLog},
		doneCh: make(chan childExit, 2),
		ctrlCh: make(chan control.Command, 8),
	}
}

// setup makes monitor/, acquires the service lock, and creates the
// control and stdin FIFOs, matching setup_monitor.
func (s *Supervisor) setup() error {
	if err := layout.EnsureDir(s.layout.MonitorDir(), layout.PermDirMonitor); err != nil {
		return fmt.Errorf("supervisor: mkdir %s: %w", s.layout.MonitorDir(), err)
	}

	s.lock = lockfile.New(s.layout.LockPath())
	if err := s.lock.TryLock(); err != nil {
		if err == lockfile.ErrHeld {
			return fmt.Errorf("supervisor: another monitor already running for %s", s.root)
		}
		return err
	}

	if err := fifo.Create(s.layout.ControlPath(), layout.PermPipeControl); err != nil {
		return err
	}
	ctrl, err := fifo.HoldOpenWriter(s.layout.ControlPath())
	if err != nil {
		return fmt.Errorf("supervisor: open control fifo: %w", err)
	}
	s.controlFile = ctrl

	if err := fifo.Create(s.layout.StdinPath(), layout.PermPipeStdin); err != nil {
		return err
	}
	stdin, err := fifo.HoldOpenWriter(s.layout.StdinPath())
	if err != nil {
		return fmt.Errorf("supervisor: open stdin fifo: %w", err)
	}
	s.stdinWriter = stdin

	return nil
}

// checkFileUp reports whether monitor/up exists, i.e. the service wants
// to be running.
func (s *Supervisor) checkFileUp() bool {
	_, err := os.Stat(s.layout.UpPath())
	return err == nil
}

func (s *Supervisor) writeStatus() {
	st := statusfile.Status{
		Updated:   tai.NowN(),
		RunChange: s.run.Changed,
		LogChange: s.log.Changed,
		RunPID:    uint32(s.run.pid),
		LogPID:    uint32(s.log.pid),
		Forward:   s.flagForward,
	}
	if err := statusfile.Write(s.layout.StatusPath(), st); err != nil {
		s.lg.Warn("failed to update status file", gwlog.KVErr(err))
	}
}

// closePipe tears down the run->log pipe. Only safe to call when
// terminating both children: if either is still alive, the pipe may
// still be needed for forwarding.
func (s *Supervisor) closePipe() {
	if s.runlogRead != nil {
		s.runlogRead.Close()
		s.runlogRead = nil
	}
	if s.runlogWrite != nil {
		s.runlogWrite.Close()
		s.runlogWrite = nil
	}
}

// createPipe lazily (re)creates the run->log pipe.
func (s *Supervisor) createPipe() error {
	if s.runlogRead != nil && s.runlogWrite != nil {
		return nil
	}
	s.closePipe()
	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("supervisor: create runlog pipe: %w", err)
	}
	s.runlogRead, s.runlogWrite = r, w
	return nil
}

// checkChildren drains doneCh without blocking, updating state for any
// child that has exited since the last pass, matching check_children's
// non-blocking apr_proc_wait_all_procs loop.
func (s *Supervisor) checkChildren() {
	for {
		select {
		case ce := <-s.doneCh:
			s.reapChild(ce)
		default:
			return
		}
	}
}

func (s *Supervisor) reapChild(ce childExit) {
	c := ce.child
	c.Changed = tai.NowN()
	pid := c.pid
	c.pid = 0
	c.cmd = nil
	if c == &s.run {
		s.flagForward = false
	}
	s.writeStatus()
	s.lg.Info(fmt.Sprintf("%s [pid %d] exited", c.ProgName, pid), gwlog.KVErr(ce.err))
}

// startChild execs child.ProgName from the service directory, matching
// start_child: silently skipped if the file is missing or not a
// regular file, and never started once flagIntr is set.
func (s *Supervisor) startChild(c *Child, timer *time.Timer, timerActive *bool) {
	if !*timerActive {
		timer.Reset(timerChild)
		*timerActive = true
	}
	c.Starts++

	path := s.layout.RunPath()
	if c == &s.log {
		path = s.layout.LogPath()
	}
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.lg.Warn("stat failed for child binary", gwlog.KV("path", path), gwlog.KVErr(err))
		}
		return
	}
	if !info.Mode().IsRegular() {
		s.lg.Warn("failed to start child: not a regular file", gwlog.KV("path", path))
		return
	}
	if s.flagIntr.Load() {
		return
	}

	cmd := exec.Command(path)
	cmd.Dir = s.root
	if c == &s.run {
		s.flagForward = false
		cmd.Stdin = s.stdinWriter
		if s.log.running() {
			if err := s.createPipe(); err != nil {
				s.lg.Warn("failed to start run: pipe setup failed", gwlog.KVErr(err))
				return
			}
			cmd.Stdout = s.runlogWrite
			cmd.Stderr = s.runlogWrite
			s.flagForward = true
		} else {
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
		}
	} else {
		if err := s.createPipe(); err != nil {
			s.lg.Warn("failed to start log: pipe setup failed", gwlog.KVErr(err))
			return
		}
		cmd.Stdin = s.runlogRead
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		s.lg.Warn("failed to start child", gwlog.KV("path", path), gwlog.KVErr(err))
		return
	}
	c.cmd = cmd
	c.pid = cmd.Process.Pid
	c.Changed = tai.NowN()
	s.writeStatus()
	s.lg.Info(fmt.Sprintf("started %s [pid %d]", c.ProgName, c.pid))

	go func(child *Child, proc *exec.Cmd) {
		err := proc.Wait()
		s.doneCh <- childExit{child: child, err: err}
	}(c, cmd)
}

// startChildren starts run and/or log if the service is requested up
// and they are not already running, matching start_children.
func (s *Supervisor) startChildren(timer *time.Timer, timerActive *bool) {
	if s.flagIntr.Load() || !s.checkFileUp() {
		return
	}

	if !s.log.Suspended && !s.log.running() && (!s.run.running() || s.flagForward) {
		s.startChild(&s.log, timer, timerActive)
	}
	if !s.run.Suspended && !s.run.running() {
		s.startChild(&s.run, timer, timerActive)
	}

	time.Sleep(pauseRespawn)
}

func (s *Supervisor) signalChild(c *Child, sig syscall.Signal) {
	if !c.running() {
		return
	}
	s.lg.Info(fmt.Sprintf("sending signal %d to %s [pid %d]", sig, c.ProgName, c.pid))
	syscall.Kill(c.pid, sig)
}

// waitForExit blocks up to d for c to exit, reaping any child that
// reports in during the wait (not just c), matching terminate_child's
// interleaved check_children call.
func (s *Supervisor) waitForExit(c *Child, d time.Duration) {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	for c.running() {
		select {
		case ce := <-s.doneCh:
			s.reapChild(ce)
		case <-deadline.C:
			return
		}
	}
}

// terminateChild walks the TERM/TERM/INT/QUIT/KILL escalation ladder,
// waiting up to pauseTermwait between signals, matching terminate_child.
func (s *Supervisor) terminateChild(c *Child) {
	s.flagIgnChld.Store(true)
	defer s.flagIgnChld.Store(false)

	for _, sig := range terminationSignals {
		if !c.running() {
			break
		}
		s.signalChild(c, sig)
		s.waitForExit(c, pauseTermwait)
		if sig == syscall.SIGKILL {
			break
		}
	}

	c.Starts = 0
	c.Suspended = false
	c.SuspendedPeriods = 0
}

// parseCommand dispatches one control byte, matching parse_command.
func (s *Supervisor) parseCommand(cmd control.Command, stop *bool) {
	if cmd == control.Terminate {
		*stop = true
		if s.stdinWriter != nil {
			s.stdinWriter.Close()
			s.stdinWriter = nil
		}
	}

	if cmd == control.Kill || *stop {
		s.closePipe()
		s.terminateChild(&s.run)
		s.terminateChild(&s.log)
		return
	}
	if cmd == control.Wakeup {
		return
	}
	if sig, ok := control.IsSignalForward(cmd); ok {
		s.signalChild(&s.run, sig.(syscall.Signal))
		return
	}
	s.lg.Warn("unknown control command", gwlog.KV("cmd", byte(cmd)))
}

// checkSuspension decides whether a flapping child should be suspended
// or have its suspension lifted, matching check_suspension. Returns
// whether the caller still needs the suspension timer running.
func checkSuspension(c *Child, lg *gwlog.Logger) bool {
	if c.Suspended {
		c.SuspendedPeriods++
		if c.SuspendedPeriods >= childSuspension {
			c.Suspended = false
			c.SuspendedPeriods = 0
			return false
		}
		return true
	}
	if c.Starts > 0 {
		if c.Starts > childMaxStarts {
			c.Suspended = true
			lg.Warn("suspended, respawning too fast", gwlog.KV("child", c.ProgName))
		}
		c.Starts = 0
		return true
	}
	return false
}

// readControlFIFO runs for the supervisor's lifetime, feeding one-byte
// commands read from the held-open control FIFO descriptor into ctrlCh.
// Reusing s.controlFile (rather than opening a second descriptor)
// matches create_namedpipe, which opens the control pipe read+write
// once and uses that single descriptor for both polling and writing.
func (s *Supervisor) readControlFIFO() {
	buf := make([]byte, 1)
	for {
		n, err := s.controlFile.Read(buf)
		if n == 1 {
			s.ctrlCh <- control.Command(buf[0])
			continue
		}
		if err != nil {
			time.Sleep(pauseFailure)
		}
	}
}

// Run is the monitor's main loop: check for dead children, start
// requested ones, wait for the next event. It returns once a Terminate
// command (or SIGINT/SIGTERM/SIGQUIT) has fully drained both children,
// matching monitor(); after a Kill command the loop keeps running and
// restarts the children.
func (s *Supervisor) Run() error {
	if err := s.setup(); err != nil {
		return err
	}
	defer s.lock.Unlock()

	s.writeStatus()

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	go s.readControlFIFO()

	timer := time.NewTimer(timerChild)
	timer.Stop()
	timerActive := false

	stop := false
	for !stop {
		s.checkChildren()
		s.startChildren(timer, &timerActive)

		select {
		case cmd := <-s.ctrlCh:
			s.parseCommand(cmd, &stop)
		case ce := <-s.doneCh:
			s.reapChild(ce)
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				// Wakeup: loop around and re-check state.
			case syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				s.lg.Warn("received a signal")
				s.flagIntr.Store(true)
				s.parseCommand(control.Terminate, &stop)
			}
		case <-timer.C:
			timerActive = false
			restartLog := checkSuspension(&s.log, s.lg)
			restartRun := checkSuspension(&s.run, s.lg)
			if restartLog || restartRun {
				timer.Reset(timerChild)
				timerActive = true
			}
		case <-time.After(timeoutPoll):
			// Matches wait_for_command's poll timeout: wake up
			// periodically even with nothing to do.
		}
	}

	s.lg.Info("exiting")
	return nil
}
