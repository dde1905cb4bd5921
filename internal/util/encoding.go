package util

import (
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize prepares a passphrase for key derivation.
func Normalize(s string) string {
	return norm.NFKD.String(s)
}

// NormalizeInput trims and composes interactive input such as usernames and
// host names so the same text typed on different systems compares equal.
func NormalizeInput(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
