// Package requestid mints the opaque ids that tie one request's log lines,
// error responses, and audit rows together across the gateway and the
// dashboard.
package requestid

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns 16 random bytes hex-encoded. Ids are generated at the edge and
// propagated on X-Request-Id; uuid is reserved for resource ids.
func New() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
