package output

import (
	"testing"

	"github.com/gofrs/flock"
)

// flockFor holds the result-file lock for path until the returned func runs.
func flockFor(t *testing.T, path string) func() {
	t.Helper()
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	return func() { _ = lock.Unlock() }
}
