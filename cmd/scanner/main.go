// Command scanner watches a base directory's active/ subdirectory and
// keeps one monitor process running per service entry, restarting its
// scan every few seconds and eagerly on filesystem change notifications.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/samitolvanen/ngim/internal/gwlog"
	"github.com/samitolvanen/ngim/internal/rotate"
	"github.com/samitolvanen/ngim/internal/scanner"
)

var logFile = flag.String("log-file", "", "write diagnostics to this rotating file instead of stderr")

func main() {
	flag.Usage = func() { fmt.Fprintf(os.Stderr, "usage: %s [ --log-file path ] directory\n", os.Args[0]) }
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	appname := fmt.Sprintf("scanner[%d]", os.Getpid())
	lg, err := openLogger(appname)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scanner: %v\n", err)
		os.Exit(1)
	}
	defer lg.Close()

	sc := scanner.New(flag.Arg(0), lg)
	if err := sc.Run(); err != nil {
		lg.FatalCode(1, "scanner exited", gwlog.KVErr(err))
	}
}

func openLogger(appname string) (*gwlog.Logger, error) {
	if *logFile == "" {
		return gwlog.New(os.Stderr, appname), nil
	}
	return gwlog.NewRotatingFile(*logFile, appname, rotate.Options{})
}
