package app

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// ELEMENTMEDICA_TEST_MODE accepts any strconv.ParseBool spelling. When set the
// binaries exit before dialling postgres or redis.
const testModeEnv = "ELEMENTMEDICA_TEST_MODE"

// testMode caches the parsed flag; nil means not yet read.
var testMode atomic.Pointer[bool]

func readTestMode() *bool {
	on, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(testModeEnv)))
	on = on && err == nil
	return &on
}

// InTestMode reports whether the binaries should skip runtime side effects.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	testMode.CompareAndSwap(nil, readTestMode())
	return *testMode.Load()
}

// RefreshTestMode re-reads the environment.
func RefreshTestMode() {
	testMode.Store(readTestMode())
}
