package ntag424

import (
	"bytes"
	"testing"
)

// scriptedTag plays the tag's half of an EV2-First handshake for a fixed
// key/RndB/TI, computing each response with the same primitives a real tag
// uses, so the client side can be driven deterministically.
func scriptedTag(t *testing.T, key, rndB, rndA, ti []byte, mangleRndA bool) *fakeCard {
	t.Helper()
	iv0 := make([]byte, 16)

	encRndB, err := aesCBCEncrypt(key, iv0, rndB)
	if err != nil {
		t.Fatalf("encrypt RndB: %v", err)
	}
	resp1 := append(append([]byte{}, encRndB...), 0x91, 0xAF)

	rndARot := rotateLeft1(rndA)
	if mangleRndA {
		rndARot[0] ^= 0xFF
	}
	plain := make([]byte, 0, 32)
	plain = append(plain, ti...)
	plain = append(plain, rndARot...)
	plain = append(plain, make([]byte, 12)...) // PDcap2 ‖ PCDcap2
	encResp2, err := aesCBCEncrypt(key, iv0, plain)
	if err != nil {
		t.Fatalf("encrypt phase 2 response: %v", err)
	}
	resp2 := append(append([]byte{}, encResp2...), 0x91, 0x00)

	return &fakeCard{responses: [][]byte{resp1, resp2}}
}

func TestAuthenticateEV2FirstDerivesSession(t *testing.T) {
	key := make([]byte, 16)
	rndA := mustHex(t, "a7430b59775c83eee4083e8f7f1ca889")
	rndB := mustHex(t, "b98f4c50cf1c2e084fd150e33992b048")
	ti := mustHex(t, "5084a1a3")

	var fixed FixedRandomSource
	copy(fixed.Value[:], rndA)

	card := scriptedTag(t, key, rndB, rndA, ti, false)
	sess, err := AuthenticateEV2First(card, key, 0x00, fixed)
	if err != nil {
		t.Fatalf("AuthenticateEV2First: %v", err)
	}

	if !bytes.Equal(sess.ti[:], ti) {
		t.Fatalf("TI = %X, want %X", sess.ti, ti)
	}
	if sess.CmdCtr() != 0 {
		t.Fatalf("CmdCtr = %d, want 0 right after authentication", sess.CmdCtr())
	}
	if sess.KeyNo() != 0 {
		t.Fatalf("KeyNo = %d, want 0", sess.KeyNo())
	}

	wantEnc, wantMac, err := deriveSessionKeys(key, rndA, rndB)
	if err != nil {
		t.Fatalf("deriveSessionKeys: %v", err)
	}
	if !bytes.Equal(sess.kenc[:], wantEnc) || !bytes.Equal(sess.kmac[:], wantMac) {
		t.Fatalf("session keys do not match the SV1/SV2 derivation")
	}
}

func TestAuthenticateEV2FirstRejectsWrongRndAEcho(t *testing.T) {
	key := make([]byte, 16)
	rndA := mustHex(t, "a7430b59775c83eee4083e8f7f1ca889")
	rndB := mustHex(t, "b98f4c50cf1c2e084fd150e33992b048")
	ti := mustHex(t, "5084a1a3")

	var fixed FixedRandomSource
	copy(fixed.Value[:], rndA)

	card := scriptedTag(t, key, rndB, rndA, ti, true)
	if _, err := AuthenticateEV2First(card, key, 0x00, fixed); err == nil {
		t.Fatalf("expected auth failure when the tag echoes a wrong rotated RndA")
	}
}

func TestAuthenticateEV2FirstRejectsBadPhase1Status(t *testing.T) {
	card := &fakeCard{responses: [][]byte{{0x91, 0xAE}}}
	_, err := AuthenticateEV2First(card, make([]byte, 16), 0x00, nil)
	if err == nil {
		t.Fatalf("expected auth failure for a 91AE phase 1 status")
	}
	step, sw, _, ok := ClassifyAuthError(err)
	if !ok || step != "step1" || sw != SWAuthError {
		t.Fatalf("expected step1/91AE classification, got step=%q sw=%04X ok=%v", step, sw, ok)
	}
}

func TestAuthenticateEV2FirstRejectsShortKey(t *testing.T) {
	if _, err := AuthenticateEV2First(&fakeCard{}, make([]byte, 8), 0x00, nil); err == nil {
		t.Fatalf("expected config error for a short master key")
	}
}

func TestSV1SV2VectorLayout(t *testing.T) {
	rndA := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	rndB := make([]byte, 16)
	for i := range rndB {
		rndB[i] = byte(0xF0 + i)
	}

	// With RndB's first 6 bytes XORed away, SV1's variable region is fully
	// determined by the layout: prefix ‖ RndA[0:2] ‖ RndA[2:8]^RndB[0:6] ‖
	// RndB[6:16] ‖ RndA[8:16].
	sv1 := make([]byte, 32)
	copy(sv1, []byte{0xA5, 0x5A, 0x00, 0x01, 0x00, 0x80})
	copy(sv1[6:8], rndA[:2])
	for i := 0; i < 6; i++ {
		sv1[8+i] = rndA[2+i] ^ rndB[i]
	}
	copy(sv1[14:24], rndB[6:16])
	copy(sv1[24:32], rndA[8:16])

	key := make([]byte, 16)
	wantEnc, err := aesCMAC(key, sv1)
	if err != nil {
		t.Fatalf("aesCMAC: %v", err)
	}
	// SV2 carries the same fill under the swapped 5A A5 prefix.
	sv2 := append([]byte{}, sv1...)
	sv2[0], sv2[1] = 0x5A, 0xA5
	wantMac, err := aesCMAC(key, sv2)
	if err != nil {
		t.Fatalf("aesCMAC: %v", err)
	}
	gotEnc, gotMac, err := deriveSessionKeys(key, rndA, rndB)
	if err != nil {
		t.Fatalf("deriveSessionKeys: %v", err)
	}
	if !bytes.Equal(gotEnc, wantEnc) {
		t.Fatalf("SesENC does not follow the pinned SV1 byte layout")
	}
	if !bytes.Equal(gotMac, wantMac) {
		t.Fatalf("SesMAC does not follow the pinned SV2 byte layout")
	}
}
