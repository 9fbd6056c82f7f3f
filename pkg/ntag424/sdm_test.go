package ntag424

import (
	"strings"
	"testing"
)

func TestGenerateSDMURLVerifyRoundTrip(t *testing.T) {
	key := mustHex(t, "00112233445566778899aabbccddeeff")
	uid := mustHex(t, "04aabbccddeeff")

	url, err := GenerateSDMURL("https://example.com/tap", uid, 0x000123, key)
	if err != nil {
		t.Fatalf("GenerateSDMURL: %v", err)
	}
	if !strings.Contains(url, "uid=04AABBCCDDEEFF") {
		t.Fatalf("URL does not carry the uppercase hex UID: %s", url)
	}
	if !strings.Contains(url, "ctr=000123") {
		t.Fatalf("URL does not carry the big-endian hex counter: %s", url)
	}

	ok, err := VerifySDMMAC(url, key)
	if err != nil {
		t.Fatalf("VerifySDMMAC: %v", err)
	}
	if !ok {
		t.Fatalf("a freshly generated URL must verify under the same key")
	}

	match, counter, computed, err := VerifySDMMACDetailed(url, key)
	if err != nil {
		t.Fatalf("VerifySDMMACDetailed: %v", err)
	}
	if !match {
		t.Fatalf("detailed verification disagrees with VerifySDMMAC")
	}
	if counter != 0x000123 {
		t.Fatalf("decoded counter = %06X, want 000123", counter)
	}
	if len(computed) != 16 {
		t.Fatalf("computed MAC hex must be 16 chars, got %q", computed)
	}
}

func TestVerifySDMMACRejectsWrongKey(t *testing.T) {
	key := mustHex(t, "00112233445566778899aabbccddeeff")
	uid := mustHex(t, "04aabbccddeeff")
	url, err := GenerateSDMURL("https://example.com/tap", uid, 7, key)
	if err != nil {
		t.Fatalf("GenerateSDMURL: %v", err)
	}

	wrongKey := make([]byte, 16)
	ok, err := VerifySDMMAC(url, wrongKey)
	if err != nil {
		t.Fatalf("VerifySDMMAC: %v", err)
	}
	if ok {
		t.Fatalf("verification must fail under a different key")
	}
}

func TestVerifySDMMACRejectsTamperedCounter(t *testing.T) {
	key := mustHex(t, "00112233445566778899aabbccddeeff")
	uid := mustHex(t, "04aabbccddeeff")
	url, err := GenerateSDMURL("https://example.com/tap", uid, 7, key)
	if err != nil {
		t.Fatalf("GenerateSDMURL: %v", err)
	}

	// Replaying with a bumped counter must break the MAC, since the counter
	// feeds the per-read session key derivation.
	tampered := strings.Replace(url, "ctr=000007", "ctr=000008", 1)
	if tampered == url {
		t.Fatalf("fixture does not contain the expected counter parameter: %s", url)
	}
	ok, err := VerifySDMMAC(tampered, key)
	if err != nil {
		t.Fatalf("VerifySDMMAC: %v", err)
	}
	if ok {
		t.Fatalf("verification must fail for a tampered counter")
	}
}

func TestParseSDMURLRequiresAllParameters(t *testing.T) {
	if _, _, _, err := ParseSDMURL("https://example.com/tap?uid=04AABBCCDDEEFF&ctr=000001"); err == nil {
		t.Fatalf("expected error when the mac parameter is missing")
	}
}

func TestDeriveSDMSessionKeyValidatesInputs(t *testing.T) {
	key := make([]byte, 16)
	uid := make([]byte, 7)
	ctr := make([]byte, 3)
	if _, err := DeriveSDMSessionKey(key[:8], uid, ctr); err == nil {
		t.Fatalf("expected error for a short base key")
	}
	if _, err := DeriveSDMSessionKey(key, uid[:4], ctr); err == nil {
		t.Fatalf("expected error for a short UID")
	}
	if _, err := DeriveSDMSessionKey(key, uid, ctr[:2]); err == nil {
		t.Fatalf("expected error for a short counter")
	}
}
