// Command monitor supervises a single service directory: it starts and
// restarts the service's run (and optional log) child processes, tracks
// flap/suspension, and serves the control-FIFO protocol srvctl speaks to
// it. Invoked by the scanner, once per active service; never run by hand
// in ordinary operation.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samitolvanen/ngim/internal/gwlog"
	"github.com/samitolvanen/ngim/internal/rotate"
	"github.com/samitolvanen/ngim/internal/supervisor"
)

var logFile = flag.String("log-file", "", "write diagnostics to this rotating file instead of stderr")

func main() {
	flag.Usage = func() { fmt.Fprintf(os.Stderr, "usage: %s [ --log-file path ] directory [ name ]\n", os.Args[0]) }
	flag.Parse()

	if flag.NArg() < 1 || flag.NArg() > 2 {
		flag.Usage()
		os.Exit(1)
	}
	root := flag.Arg(0)

	dispname := displayName(root)
	if flag.NArg() > 1 {
		dispname = flag.Arg(1)
	}

	appname := fmt.Sprintf("monitor[%d] %s", os.Getpid(), dispname)
	lg, err := openLogger(appname)
	if err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(1)
	}
	defer lg.Close()

	sv := supervisor.New(root, lg)
	if err := sv.Run(); err != nil {
		lg.FatalCode(1, "monitor exited", gwlog.KVErr(err))
	}
}

func openLogger(appname string) (*gwlog.Logger, error) {
	if *logFile == "" {
		return gwlog.New(os.Stderr, appname), nil
	}
	return gwlog.NewRotatingFile(*logFile, appname, rotate.Options{})
}

// displayName resolves root's symlink basename when the service
// directory argument is itself a priority symlink under active/.
func displayName(root string) string {
	info, err := os.Lstat(root)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return root
	}
	target, err := os.Readlink(root)
	if err != nil {
		return root
	}
	return filepath.Base(target)
}
