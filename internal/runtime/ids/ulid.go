package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
// Message ids, correlation ids and rosbridge operation ids all come from here.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Prefixed returns "<prefix>:<ulid>", the shape rosbridge uses for op ids.
func Prefixed(prefix string) string {
	if prefix == "" {
		return CreateULID()
	}
	return prefix + ":" + CreateULID()
}
