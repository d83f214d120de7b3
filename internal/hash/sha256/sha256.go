// Package sha256 digests stored detail pages so checkpoints can be compared
// across runs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Prefix tags digests printed by the inspect command.
const Prefix = "sha256:"

// Digest returns the hex SHA-256 of body.
func Digest(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// Tagged returns Digest(body) with Prefix prepended.
func Tagged(body string) string {
	return Prefix + Digest(body)
}
