package biometric

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/biosync/biosync/internal/store"
)

// Hash returns the hex SHA-256 content hash of a template payload.
func Hash(template []byte) string {
	sum := sha256.Sum256(template)
	return hex.EncodeToString(sum[:])
}

// CheckIntegrity recomputes the content hash and compares it with the stored one.
func CheckIntegrity(c Credential) error {
	if !strings.EqualFold(Hash(c.Template), c.IntegrityHash) {
		return fmt.Errorf("credential %s: %w", c.ID, store.ErrIntegrity)
	}
	return nil
}
