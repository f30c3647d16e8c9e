package snapshot

import (
	"fmt"

	"github.com/zeebo/blake3"
)

// ContentHash returns the hex BLAKE3 digest of a raw dump.
func ContentHash(raw string) string {
	hasher := blake3.New()
	_, _ = hasher.Write([]byte(raw))
	return fmt.Sprintf("%x", hasher.Sum(nil))
}
