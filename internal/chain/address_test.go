package chain

import "testing"

func TestIsValidAddress(t *testing.T) {
	if !IsValidAddress(WsolMint) {
		t.Errorf("expected %s to be a valid address", WsolMint)
	}
	if !IsValidAddress(UsdcMint) {
		t.Errorf("expected %s to be a valid address", UsdcMint)
	}
	for _, s := range []string{"", "not-base58-0OIl", "abc", WsolMint + WsolMint} {
		if IsValidAddress(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestIsValidSignature(t *testing.T) {
	// 64 bytes of 0x01 in base58.
	sig := "2AXDGYSE4f2sz7tvMMzyHvUfcoJmxudvdhBcmiUSo6ijwfYmfZYsKRxboQMPh3R4kUhXRVdtSXFXMheka4Rc4P2"
	if !IsValidSignature(sig) {
		t.Errorf("expected %q to be a valid signature", sig)
	}
	if IsValidSignature(WsolMint) {
		t.Error("32-byte address must not pass as a signature")
	}
}
