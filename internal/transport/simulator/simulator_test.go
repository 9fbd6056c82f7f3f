package simulator_test

import (
	"testing"

	"github.com/barnettlynn/ntag424sdm/internal/transport/simulator"
	"github.com/barnettlynn/ntag424sdm/pkg/ntag424"
)

// This is the one place a full wire protocol round trip can run without
// hardware: authenticate, read version/file settings over the freshly
// derived session, rotate the authentication key, and confirm the old key
// no longer works while the new one re-authenticates cleanly.
func TestFullProtocolRoundTrip(t *testing.T) {
	baseURL := "https://example.com/tap?uid=00000000000000&ctr=000000&cmac=0000000000000000"
	sim := simulator.New(baseURL)
	factoryKey := make([]byte, 16)

	sess, err := ntag424.AuthenticateEV2First(sim, factoryKey, 0x00, ntag424.CryptoRandSource)
	if err != nil {
		t.Fatalf("AuthenticateEV2First: %v", err)
	}
	if !sess.Valid() {
		t.Fatalf("freshly authenticated session should be valid")
	}
	if sess.CmdCtr() != 0 {
		t.Fatalf("expected CmdCtr=0 right after authentication, got %d", sess.CmdCtr())
	}

	v, err := ntag424.GetVersion(sim)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if len(v.UID) != 7 {
		t.Fatalf("expected a 7-byte UID, got %d bytes", len(v.UID))
	}

	fs, err := ntag424.GetFileSettingsSecure(sim, sess, 0x02)
	if err != nil {
		t.Fatalf("GetFileSettingsSecure: %v", err)
	}
	if fs.SDMOptions == 0 {
		t.Fatalf("expected the NDEF file to have SDM mirroring pre-wired")
	}
	if sess.CmdCtr() != 1 {
		t.Fatalf("expected CmdCtr=1 after one wrapped command, got %d", sess.CmdCtr())
	}

	newKey := make([]byte, 16)
	for i := range newKey {
		newKey[i] = byte(i + 1)
	}
	if err := ntag424.ChangeKeySame(sim, sess, 0x00, newKey, 0x01); err != nil {
		t.Fatalf("ChangeKeySame: %v", err)
	}
	if sess.Valid() {
		t.Fatalf("ChangeKeySame must invalidate the session it ran on")
	}

	if _, err := ntag424.AuthenticateEV2First(sim, factoryKey, 0x00, ntag424.CryptoRandSource); err == nil {
		t.Fatalf("expected the old factory key to be rejected after ChangeKeySame")
	}

	newSess, err := ntag424.AuthenticateEV2First(sim, newKey, 0x00, ntag424.CryptoRandSource)
	if err != nil {
		t.Fatalf("expected the rotated key to authenticate: %v", err)
	}
	if !newSess.Valid() {
		t.Fatalf("new session should be valid")
	}
}

func TestTapMutatesCounterAndMAC(t *testing.T) {
	sim := simulator.New("https://example.com/tap?uid=00000000000000&ctr=000000&cmac=0000000000000000")

	first, err := ntag424.ReadNDEF(sim)
	if err != nil {
		t.Fatalf("ReadNDEF: %v", err)
	}
	second, err := ntag424.ReadNDEF(sim)
	if err != nil {
		t.Fatalf("ReadNDEF (second tap): %v", err)
	}
	if string(first) == string(second) {
		t.Fatalf("expected each tap to mutate the mirrored counter/MAC, got identical NDEF payloads")
	}
}
