package chain

import "github.com/mr-tron/base58"

// IsValidAddress reports whether s is a base58-encoded 32-byte public
// key, the form wallets and mints take on the wire.
func IsValidAddress(s string) bool {
	decoded, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(decoded) == 32
}

// IsValidSignature reports whether s is a base58-encoded 64-byte
// transaction signature.
func IsValidSignature(s string) bool {
	decoded, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(decoded) == 64
}
