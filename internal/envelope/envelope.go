// Package envelope implements the reversible text transform applied to
// message bodies.
//
// It is obfuscation, not encryption: anyone holding a token can decode it.
// It must never be treated as a security boundary.
package envelope

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

// Prefix marks an encoded token. Bodies without it are legacy plaintext.
const Prefix = "env1:"

// Encode wraps text into a token.
func Encode(text string) string {
	return Prefix + base64.RawURLEncoding.EncodeToString(scramble([]byte(text)))
}

// Decode reverses Encode. Input that is not a well-formed token is
// returned unchanged.
func Decode(token string) string {
	raw, ok := strings.CutPrefix(token, Prefix)
	if !ok {
		return token
	}

	p, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return token
	}

	p = scramble(p)
	if !utf8.Valid(p) {
		return token
	}
	return string(p)
}

// IsEncoded reports whether s looks like a token produced by Encode.
func IsEncoded(s string) bool {
	return strings.HasPrefix(s, Prefix)
}

// scramble is its own inverse.
func scramble(p []byte) []byte {
	out := make([]byte, len(p))
	for i, b := range p {
		out[i] = b ^ byte(0x5a+i%7)
	}
	return out
}
