package app

import (
	"os"
	"sync"
)

// TestModeEnv is set by the testing package so binaries built into test
// executables never open sockets or touch the database.
const TestModeEnv = "AGENCY_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(TestModeEnv) == "1"
})

// InTestMode reports whether mains should return before wiring anything.
func InTestMode() bool {
	return testMode()
}
