package core

import (
	"crypto/md5"
	"encoding/hex"
)

// Hash returns the first 12 hex characters of the MD5 of text. Listings use it
// for stable element ids.
func Hash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])[:12]
}
