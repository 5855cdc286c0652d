package testutil

import (
	"fmt"
	"sync"
	"testing"

	"github.com/cumba2321/classsync/internal/docstore"
)

// Sequence returns a generator of prefix1, prefix2, ...
func Sequence(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

// NewMemoryBackend returns an in-memory backend whose server clock is clock
// and whose generated document ids are s1, s2, ... It is closed when the
// test ends.
func NewMemoryBackend(t testing.TB, clock *ManualClock) *docstore.Memory {
	t.Helper()
	b := docstore.NewMemory(
		docstore.WithClock(clock.Now),
		docstore.WithIDGenerator(Sequence("s")),
	)
	t.Cleanup(func() { b.Close() })
	return b
}
