// Package guard switches the binaries into test mode when imported by a
// test, so nothing dials redis or the backend.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("PURCHASING_TEST_MODE") == "" {
			_ = os.Setenv("PURCHASING_TEST_MODE", "1")
		}
	})
}
