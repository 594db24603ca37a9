package gwlog

import (
	"fmt"
	"io"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// PrintOSInfo writes a one-line OS/kernel banner, used by srvctl's
// --version output.
func PrintOSInfo(wtr io.Writer) {
	info, err := host.Info()
	if err != nil {
		fmt.Fprintf(wtr, "OS:\t\tERROR %v\n", err)
		return
	}
	fmt.Fprintf(wtr, "OS:\t\t%s %s [%s %s] (kernel %s)\n",
		runtime.GOOS, runtime.GOARCH, info.Platform, info.PlatformVersion, info.KernelVersion)
}
