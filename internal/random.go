package internal

import (
	"crypto/rand"
	"encoding/base64"
)

// ID is a 128-bit random identifier used for session rows and single-use
// token ledger entries. The string form is unpadded base64url.
type ID [16]byte

// NewID returns a fresh random ID from crypto/rand.
func NewID() (ID, error) {
	var id ID
	_, err := rand.Read(id[:])
	return id, err
}

func (id ID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}
