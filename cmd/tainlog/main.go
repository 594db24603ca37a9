// Command tainlog is the line-logger: it reads newline-delimited
// records from stdin, stamps each with a TAI64N label, and archives them
// under directory/logdir using internal/logwriter's rotate-by-size and
// prune-by-count policy. A service's run script pipes its stdout into an
// instance of this command via the monitor's log child slot.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/samitolvanen/ngim/internal/gwlog"
	"github.com/samitolvanen/ngim/internal/layout"
	"github.com/samitolvanen/ngim/internal/logwriter"
	"github.com/samitolvanen/ngim/internal/rotate"
)

var (
	keep       = flag.Int("keep", logwriter.DefaultKeepNum, "number of archived log files to keep")
	keepAll    = flag.Bool("keep-all", false, "never prune archived log files")
	logDir     = flag.String("logdir", "", "log subdirectory name, relative to directory")
	runAsUser  = flag.String("user", "", "drop privileges to this user before logging")
	runAsGroup = flag.String("group", "", "drop privileges to this group before logging")
	logSize    = flag.Int64("logsize", logwriter.DefaultFileSize, "maximum size in bytes of the current log file")
	lineBuffer = flag.Int("line-buffer", logwriter.DefaultBufSize, "maximum size in bytes of one log line")
	diagLog    = flag.String("log-file", "", "write diagnostics to this rotating file instead of stderr")
)

func init() {
	flag.IntVar(keep, "k", logwriter.DefaultKeepNum, "shorthand for -keep")
	flag.BoolVar(keepAll, "a", false, "shorthand for -keep-all")
	flag.StringVar(logDir, "l", "", "shorthand for -logdir")
	flag.StringVar(runAsUser, "u", "", "shorthand for -user")
	flag.StringVar(runAsGroup, "g", "", "shorthand for -group")
	flag.Int64Var(logSize, "s", logwriter.DefaultFileSize, "shorthand for -logsize")
	flag.IntVar(lineBuffer, "b", logwriter.DefaultBufSize, "shorthand for -line-buffer")
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [--user name] [--group name] "+
			"[--keep num_files | --keep-all] [--logdir subdir] "+
			"[--logsize file_bytes] [--line-buffer size] directory\n", os.Args[0])
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	root := flag.Arg(0)

	appname := fmt.Sprintf("tainlog[%d]", os.Getpid())
	lg, err := openLogger(appname)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tainlog: %v\n", err)
		os.Exit(1)
	}
	defer lg.Close()

	if err := dropPrivileges(*runAsUser, *runAsGroup); err != nil {
		lg.FatalCode(1, "failed to drop privileges", gwlog.KVErr(err))
	}

	if err := os.Chdir(root); err != nil {
		lg.FatalCode(1, "chdir failed", gwlog.KV("dir", root), gwlog.KVErr(err))
	}

	keepNum, ok := logwriter.ClampKeepNum(*keep)
	if !ok {
		lg.Warnf("adjusted --keep to %d", keepNum)
	}
	if *keepAll {
		keepNum = -1
	}
	bufSize, ok := logwriter.ClampBufSize(*lineBuffer)
	if !ok {
		lg.Warnf("adjusted --line-buffer to %d", bufSize)
	}
	fileSize, ok := logwriter.ClampFileSize(*logSize)
	if !ok {
		lg.Warnf("adjusted --logsize to %d", fileSize)
	}

	dir := *logDir
	if dir == "" {
		dir = layout.DefaultLogDir
	}
	dir = filepath.Clean(dir)

	w, err := logwriter.Open(dir, logwriter.Options{
		BufSize:  bufSize,
		FileSize: fileSize,
		KeepNum:  keepNum,
	})
	if err != nil {
		lg.FatalCode(1, "failed to open log directory", gwlog.KVErr(err))
	}
	defer w.Close()

	if err := logwriter.Run(os.Stdin, w, bufSize); err != nil {
		lg.FatalCode(1, "tainlog exited", gwlog.KVErr(err))
	}
}

func openLogger(appname string) (*gwlog.Logger, error) {
	if *diagLog == "" {
		return gwlog.New(os.Stderr, appname), nil
	}
	return gwlog.NewRotatingFile(*diagLog, appname, rotate.Options{})
}

// dropPrivileges switches to the named user/group before any log data
// is read. Group is dropped before user: once the process loses its
// user identity it may no longer have permission to change its group.
func dropPrivileges(userName, groupName string) error {
	if groupName != "" {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return fmt.Errorf("lookup group %q: %w", groupName, err)
		}
		gid, err := strconv.Atoi(g.Gid)
		if err != nil {
			return err
		}
		if err := syscall.Setgid(gid); err != nil {
			return fmt.Errorf("setgid %d: %w", gid, err)
		}
	}
	if userName != "" {
		u, err := user.Lookup(userName)
		if err != nil {
			return fmt.Errorf("lookup user %q: %w", userName, err)
		}
		uid, err := strconv.Atoi(u.Uid)
		if err != nil {
			return err
		}
		if err := syscall.Setuid(uid); err != nil {
			return fmt.Errorf("setuid %d: %w", uid, err)
		}
	}
	return nil
}
