package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Entity prefixes keep identifiers self-describing in logs and URLs.
const (
	PrefixProduct  = "prd"
	PrefixUser     = "usr"
	PrefixCompany  = "cmp"
	PrefixAuditLog = "log"
	PrefixAPIKey   = "key"
	PrefixWebhook  = "whk"
	PrefixTicket   = "tkt"
	PrefixPath     = "cpl"
	PrefixCredit   = "crd"
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

// WithPrefix returns New() prefixed by "<prefix>_", lower-cased.
func WithPrefix(prefix string) string {
	return prefix + "_" + strings.ToLower(New())
}

// Time extracts the creation time encoded in a (possibly prefixed) id.
func Time(id string) (time.Time, bool) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	parsed, err := ulid.ParseStrict(strings.ToUpper(id))
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}
