package bayeux

import (
	"crypto/rand"
	"encoding/hex"
)

// newMessageID returns a correlation identifier unique enough per outbound
// request that a response can be matched back to it.
func newMessageID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing means the platform entropy source is broken;
		// fall back to a fixed-but-unlikely-to-collide value rather than
		// panicking mid-request.
		return "00000000deadbeef"
	}
	return hex.EncodeToString(buf[:])
}
