// Package ids issues record identifiers. Journal and outbox rows get ULIDs
// so they sort by creation time; entity rows get UUIDs.
package ids

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptorand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	entropy = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// ULID returns a time-sortable id stamped with now.
func ULID(now time.Time) string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now.UTC()), entropy)
	if err != nil {
		// Monotonic entropy overflowed inside one millisecond; fall back to a
		// fresh random suffix.
		return ulid.MustNew(ulid.Timestamp(now.UTC()), cryptorand.Reader).String()
	}
	return id.String()
}

func UUID() string {
	return uuid.NewString()
}
