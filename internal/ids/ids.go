package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Well-known prefixes for persisted entities. Keeping the prefix on the
// identifier itself makes logs and support tickets unambiguous.
const (
	PrefixPrincipal    = "pr_"
	PrefixAPIKey       = "key_"
	PrefixRefreshToken = "rt_"
	PrefixRequest      = "vr_"
	PrefixSession      = "vs_"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// WithPrefix returns a new identifier carrying the given entity prefix.
func WithPrefix(prefix string) string {
	return prefix + New()
}
