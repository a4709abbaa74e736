package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// GenID returns a store-assigned identifier: a nanosecond timestamp plus
// random suffix. IDs sort roughly by creation time, which keeps debug
// output readable; uniqueness comes from the suffix.
func GenID() string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%d-%s", time.Now().UTC().UnixNano(), hex.EncodeToString(b[:]))
}
