package util

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// NewID returns a URL-safe hex string ID.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// StableID hashes parts joined by "/" into a hex id. The same parts always
// give the same id, so re-running a build reproduces its keys.
func StableID(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "/")))
	return hex.EncodeToString(sum[:])
}
