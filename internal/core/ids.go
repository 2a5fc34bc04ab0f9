package core

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"herbtrace/pkg/domain"
)

// IDGenerator produces candidate event identifiers. Candidates are not
// guaranteed unique; the write path inserts conditionally and asks for a
// fresh candidate on collision.
type IDGenerator func(kind domain.EventKind, now time.Time) string

// DefaultIDGenerator emits the wire format {KIND}-{epochMillis}-{suffix}
// with a crypto-random four-digit suffix. Millisecond granularity plus a
// 0..9999 suffix is not collision-proof on its own, which is why the write
// path retries on a uniqueness conflict.
func DefaultIDGenerator(kind domain.EventKind, now time.Time) string {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		// crypto/rand failing means the platform is broken; match the
		// store's id-generation behavior and stop.
		panic(err)
	}
	return fmt.Sprintf("%s-%d-%04d", kind, now.UnixMilli(), n.Int64())
}
