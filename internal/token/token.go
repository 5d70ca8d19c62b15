// Package token implements the media access token: an HMAC-SHA256 keyed hash
// binding a resource identifier to an expiry timestamp and, optionally, to the
// requesting client's IP address.
//
// Tokens are never stored. A token is valid exactly when recomputing the hash
// from the request-supplied fields reproduces it and the deadline has not
// passed. Comparison is constant-time; tokens are attacker-controlled input.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Codec issues and verifies media tokens with a fixed signing key.
// Construct once at startup; safe for concurrent use.
type Codec struct {
	key    []byte
	bindIP bool
}

// NewCodec creates a Codec. key is the derived signing key (see keys.go);
// bindIP controls whether the client IP participates in the hash input.
// A codec with bindIP enabled never verifies tokens issued without it, and
// vice versa — the message shapes differ, so verification fails closed.
func NewCodec(key []byte, bindIP bool) *Codec {
	k := make([]byte, len(key))
	copy(k, key)
	return &Codec{key: k, bindIP: bindIP}
}

// Issue computes the hex token for a resource and deadline. Deterministic:
// the same inputs always produce the same token. clientIP is ignored unless
// the codec was built with IP binding.
func (c *Codec) Issue(resourceID string, expires int64, clientIP string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(c.message(resourceID, expires, clientIP)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether tok is a valid, unexpired token for the given
// resource and deadline. Expired tokens are rejected before any crypto work.
func (c *Codec) Verify(resourceID string, expires int64, tok, clientIP string, now time.Time) bool {
	if resourceID == "" || tok == "" {
		return false
	}
	if now.Unix() > expires {
		return false
	}
	expected := c.Issue(resourceID, expires, clientIP)
	return hmac.Equal([]byte(expected), []byte(tok))
}

// message builds the hash input. The IP segment is present only when binding
// is enabled, so toggling the flag between issuance and verification changes
// the message and invalidates the token.
func (c *Codec) message(resourceID string, expires int64, clientIP string) string {
	if c.bindIP {
		return fmt.Sprintf("%s:%d:%s", resourceID, expires, clientIP)
	}
	return fmt.Sprintf("%s:%d", resourceID, expires)
}
