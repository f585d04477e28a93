package app

import (
	"os"
	"sync"
)

// TestModeEnv is set by test binaries so that entrypoints skip network startup.
const TestModeEnv = "DPM_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(TestModeEnv) == "1"
})

// InTestMode reports whether DPM_TEST_MODE=1 was set when first asked.
func InTestMode() bool {
	return testMode()
}
