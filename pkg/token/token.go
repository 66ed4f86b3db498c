// Package token turns absolute filesystem paths into opaque, URL-safe strings
// and back. Tokens are what the browser sees in ?path= query values.
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrMalformed is returned when a token is not valid encoded text or does not
// carry a well-formed absolute path.
var ErrMalformed = errors.New("malformed path token")

// Encode returns the token for an absolute path.
func Encode(absPath string) string {
	return base64.URLEncoding.EncodeToString([]byte(absPath))
}

// Decode is the inverse of Encode. The returned path is cleaned.
//
// Tokens produced by older front-ends used the standard alphabet, so that is
// accepted as a fallback.
func Decode(tok string) (string, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", fmt.Errorf("%w: empty", ErrMalformed)
	}
	b, err := base64.URLEncoding.DecodeString(tok)
	if err != nil {
		var err2 error
		b, err2 = base64.StdEncoding.DecodeString(tok)
		if err2 != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	p := string(b)
	if !utf8.ValidString(p) || strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: not a text path", ErrMalformed)
	}
	if !filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: %q is not absolute", ErrMalformed, p)
	}
	return filepath.Clean(p), nil
}

