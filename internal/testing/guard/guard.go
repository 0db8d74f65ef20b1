// Package guard puts the process in test mode when imported for side effects
// from a _test.go file. Binaries then skip startup and the directory falls
// back to the in-memory seed.
package guard

import "os"

func init() {
	if os.Getenv("ODYSSEY_TEST_MODE") == "" {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
	}
	if os.Getenv("DIRECTORY_DRIVER") == "" {
		_ = os.Setenv("DIRECTORY_DRIVER", "memory")
	}
}
