// Package signature computes the gateway's MD5 field signature.
//
// The canonical string is built from every field except "signature", sorted by key,
// skipping empty values, with each value trimmed and then encoded the way a browser's
// encodeURIComponent does (spaces rendered as '+'). A non-empty passphrase is appended
// as a final "passphrase" pair. Client and gateway recompute this independently, so the
// output must not change.
package signature

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
)

// FieldName is the key carrying the signature itself; it is never signed.
const FieldName = "signature"

// ErrMismatch is returned by Check when the provided signature does not match.
var ErrMismatch = errors.New("signature mismatch")

// Canonical returns the string that Sign hashes.
func Canonical(params map[string]string, passphrase string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == FieldName {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v := params[k]
		if v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(Encode(strings.TrimSpace(v)))
	}
	if passphrase != "" {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString("passphrase=")
		b.WriteString(Encode(strings.TrimSpace(passphrase)))
	}
	return b.String()
}

// Sign returns the lowercase hex MD5 of the canonical string.
func Sign(params map[string]string, passphrase string) string {
	sum := md5.Sum([]byte(Canonical(params, passphrase)))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the signature and compares it case-sensitively.
func Verify(params map[string]string, provided, passphrase string) bool {
	if provided == "" {
		return false
	}
	return Sign(params, passphrase) == provided
}

// Check is Verify returning ErrMismatch instead of false.
func Check(params map[string]string, provided, passphrase string) error {
	if !Verify(params, provided, passphrase) {
		return ErrMismatch
	}
	return nil
}

// Encode percent-encodes s with encodeURIComponent's unreserved set
// (A-Z a-z 0-9 - _ . ! ~ * ' ( )), uppercase hex, and '+' for spaces.
func Encode(s string) string {
	const hexdigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case unreserved(c):
			b.WriteByte(c)
		case c == ' ':
			b.WriteByte('+')
		default:
			b.WriteByte('%')
			b.WriteByte(hexdigits[c>>4])
			b.WriteByte(hexdigits[c&0x0f])
		}
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
