// internal/types/ids.go
package types

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

type SessionID string
type CallerID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// Hash returns a short stable digest of the caller identity, used as a
// storage key so raw identities (IP addresses, chat IDs) never appear in
// the store.
func (c CallerID) Hash() string {
	sum := sha256.Sum256([]byte(c))
	return hex.EncodeToString(sum[:8])
}
