package app

import (
	"os"
	"runtime/debug"
	"sync"
)

const testModeEnv = "FXREVAL_TEST_MODE"

// InTestMode reports FXREVAL_TEST_MODE=1, under which serve and the worker
// return before opening listeners or registering cron entries. The flag is
// read once per process.
var InTestMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})

// Version is the main module version stamped by the Go toolchain, or
// "devel" for local builds.
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "devel"
	}
	return info.Main.Version
}
