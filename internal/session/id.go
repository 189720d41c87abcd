package session

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/bifrost-industrial/cip-gateway/internal/plcerr"
)

// idBytes is 16 bytes (128 bits) of entropy, matching spec.md §4.4's
// "random >=128-bit entropy, encoded URL-safe" session id requirement.
const idBytes = 16

func newSessionID() (string, error) {
	buf := make([]byte, idBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", plcerr.Wrap(plcerr.KindTransport, "session.newSessionID", "failed to read random bytes", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
