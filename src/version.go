package dvbrx

import (
	"fmt"
	"runtime/debug"
	"strconv"
)

// Set at build time via `-ldflags "-X 'github.com/doismellburning/dvbrx/src.DVBRX_VERSION=X'"`
var DVBRX_VERSION string

func getBuildSettingOrDefault(bi *debug.BuildInfo, key string, defaultValue string) string {
	if bi == nil {
		return defaultValue
	}
	for _, bs := range bi.Settings {
		if bs.Key == key {
			return bs.Value
		}
	}

	return defaultValue
}

// versionString describes the build: version, VCS revision and time.
func versionString(program string, bi *debug.BuildInfo) string {
	var buildTimeStr = getBuildSettingOrDefault(bi, "vcs.time", "UNKNOWN")

	var (
		buildCommit               = getBuildSettingOrDefault(bi, "vcs.revision", "UNKNOWN")
		buildDirtyStr             = getBuildSettingOrDefault(bi, "vcs.modified", "INVALID")
		buildDirty, buildDirtyErr = strconv.ParseBool(buildDirtyStr)
	)

	if buildDirty {
		buildCommit += "-DIRTY"
	} else if buildDirtyErr != nil {
		buildCommit += "-UNKNOWNDIRTY"
	}

	var version = DVBRX_VERSION
	if version == "" {
		version = "!UNKNOWN!"
	}

	return fmt.Sprintf("%s - Version %s (revision %s, built at %s)", program, version, buildCommit, buildTimeStr)
}

func printVersion(program string, verbose bool) {
	var buildInfo, _ = debug.ReadBuildInfo()

	fmt.Println(versionString(program, buildInfo))

	if verbose {
		fmt.Printf("\nBuildInfo: %+v\n", buildInfo)
	}
}
