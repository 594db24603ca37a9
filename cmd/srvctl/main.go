// Command srvctl is the operator-facing control tool: it activates
// and deactivates services, sends commands to their monitors over the
// control FIFO, and reports status/list information for a base
// directory's services.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/samitolvanen/ngim/internal/control"
	"github.com/samitolvanen/ngim/internal/gwlog"
	"github.com/samitolvanen/ngim/internal/srvctl"
)

const envBase = "SRVCTL_BASE"
const defaultBase = "/service"

var (
	base     = flag.String("base", "", "base service directory")
	list     = flag.Bool("list", false, "print information about available services")
	status   = flag.Bool("status", false, "print information about active services")
	utcFlag  = flag.Bool("utc", false, "print status times in UTC")
	name     = flag.String("name", "", "name of the targeted service")
	killall  = flag.Bool("kill-all", false, "restart all active services and monitors")

	priority = flag.String("priority", "", "sets a scanning priority for the service")
	up       = flag.Bool("up", false, "restart the service if it dies")
	down     = flag.Bool("down", false, "do not restart the service if it dies")
	start    = flag.Bool("start", false, "start a service")
	restart  = flag.Bool("restart", false, "restart a service")
	stop     = flag.Bool("stop", false, "stop a service")
	kill     = flag.Bool("kill", false, "restart a service and its monitor")
	signal   = flag.String("signal", "", "send a signal to a service process")
	sigterm  = flag.String("sigterm", "", "same as --down followed by --signal")
	term     = flag.Bool("term", false, "same as --sigterm TERM")
	version  = flag.Bool("version", false, "print version and OS information")
)

const usage = `--help | [ --base directory ] {1}
    1: --list | --status [ --utc ] | {2} [ --name ] service | --kill-all
    2: --priority number | --up | --down | --start | --restart | --stop | --kill | {3} | --term
    3: --signal {4} | --sigterm {4}
    4: ALRM | CONT | HUP | STOP | TERM | USR1 | USR2 | WINCH

    Basic operations:
      --help      prints this message
      --version   prints version and OS information
      --base      sets the base service directory
      --list      prints information about available services
      --status    prints information about active services
      --utc       prints status times in the UTC time zone
      --name      sets the name of the targeted service
      --kill-all  restarts all active services and monitors

    Service operations:
      --priority  sets a scanning priority for the service
      --up        tells the monitor to restart service if it dies (default)
      --down      tells the monitor not to restart service if it dies
      --start     starts a service
      --restart   restarts a service
      --stop      stops a service
      --kill      restarts a service and its monitor
      --signal    sends a signal to a service process
      --sigterm   same as --down followed by --signal
      --term      same as --sigterm TERM
`

func die(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if *version {
		fmt.Printf("srvctl (ngim)\n")
		gwlog.PrintOSInfo(os.Stdout)
		return
	}

	target := *name
	if target == "" && flag.NArg() == 1 {
		target = flag.Arg(0)
	}

	resolvedBase := *base
	if resolvedBase == "" {
		if v := os.Getenv(envBase); v != "" {
			resolvedBase = v
		} else {
			resolvedBase = defaultBase
		}
	}
	ctl := srvctl.New(resolvedBase)

	switch {
	case *status:
		cmdStatus(ctl, *utcFlag)
	case *list:
		cmdList(ctl)
	case *killall:
		cmdKillAll(ctl)
	default:
		if target == "" {
			die("usage: %s %s", os.Args[0], usage)
		}
		cmdAction(ctl, target)
	}
	fmt.Fprintln(os.Stderr, "done")
}

func cmdList(ctl *srvctl.Controller) {
	entries, err := ctl.List()
	if err != nil {
		die("%v", err)
	}
	for i, e := range entries {
		fmt.Printf("\t%d. service %s\n", i+1, e.Name)
		fmt.Printf("\t\tactive %s\n", yesno(e.Active))
		fmt.Printf("\t\trun %s\n", exists(e.HasRun))
		fmt.Printf("\t\tlog %s\n", exists(e.HasLog))
		fmt.Printf("\t\tpriority %s\n", e.Priority)
	}
}

func cmdStatus(ctl *srvctl.Controller, utc bool) {
	entries, err := ctl.Status()
	if err != nil {
		die("%v", err)
	}
	for i, e := range entries {
		fmt.Printf("\t%d. service %s\n", i+1, e.RealName)
		if e.UpdatedOK {
			updated := e.Updated.Local()
			if utc {
				updated = e.Updated.UTC()
			}
			fmt.Printf("\t\tupdated %s\n", updated.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Printf("\t\tupdated ?\n")
		}
		fmt.Printf("\t\trun %s\n", e.Run.String())
		fmt.Printf("\t\tlog %s\n", e.Log.String())
		fmt.Printf("\t\tlogging %s\n", yesno(e.Forward))
		fmt.Printf("\t\twants %s\n", wantup(e.Up))
	}
}

func cmdKillAll(ctl *srvctl.Controller) {
	names, err := ctl.KillAll()
	if err != nil {
		die("%v", err)
	}
	for _, n := range names {
		fmt.Fprintf(os.Stderr, "restarting %s\n", n)
	}
}

func cmdAction(ctl *srvctl.Controller, target string) {
	if !ctl.Exists(target) {
		die("unknown service")
	}

	switch {
	case *priority != "":
		if _, err := srvctl.ParsePriorityArg(*priority); err != nil {
			die("%v", err)
		}
		if err := ctl.SetPriority(target, *priority); err != nil {
			die("%v", err)
		}
	case *start:
		if err := ctl.Start(target); err != nil {
			die("%v", err)
		}
	case !ctl.Active(target):
		die("%s is not active", target)
	case *up:
		if err := ctl.Up(target); err != nil {
			die("%v", err)
		}
	case *down:
		if err := ctl.Down(target); err != nil {
			die("%v", err)
		}
	case *restart:
		if err := ctl.Restart(target); err != nil {
			die("%v", err)
		}
	case *stop:
		if err := ctl.Stop(target); err != nil {
			die("%v", err)
		}
	case *kill:
		if err := ctl.Kill(target); err != nil {
			die("%v", err)
		}
	case *signal != "":
		sig, err := control.ParseSignalName(*signal)
		if err != nil {
			die("%v", err)
		}
		if err := ctl.Signal(target, control.EncodeSignal(sig)); err != nil {
			die("%v", err)
		}
	case *sigterm != "":
		sig, err := control.ParseSignalName(*sigterm)
		if err != nil {
			die("%v", err)
		}
		if err := ctl.SigTerm(target, control.EncodeSignal(sig)); err != nil {
			die("%v", err)
		}
	case *term:
		if err := ctl.Term(target); err != nil {
			die("%v", err)
		}
	default:
		die("missing command")
	}
}

func yesno(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func exists(b bool) string {
	if b {
		return "exists"
	}
	return "does not exist"
}

func wantup(b bool) string {
	if b {
		return "up"
	}
	return "down"
}
