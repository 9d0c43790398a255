package app

import "os"

const testModeEnv = "JVLEDGER_TEST_MODE"

// InTestMode reports whether the binaries should skip runtime side effects.
func InTestMode() bool {
	return os.Getenv(testModeEnv) == "1"
}
