package hash

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/chazu/synapse/compiler"
)

// Fingerprint computes the SHA-256 content hash of a source text.
//
// The hash covers a deterministic serialization of the token stream, so two
// sources that differ only in comments or in spacing within a line share a
// fingerprint and therefore a compiled program. Sources that fail to lex
// have no fingerprint.
func Fingerprint(src string) ([32]byte, error) {
	toks, err := compiler.Tokenize(src)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(Serialize(toks)), nil
}

// FingerprintHex is Fingerprint in lowercase hexadecimal.
func FingerprintHex(src string) (string, error) {
	sum, err := Fingerprint(src)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum[:]), nil
}
