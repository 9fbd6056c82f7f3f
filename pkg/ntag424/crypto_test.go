package ntag424

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestAESCMACRFC4493Vectors(t *testing.T) {
	key := mustHex(t, "2b7e151628aed2a6abf7158809cf4f3c")

	cases := []struct {
		name string
		msg  []byte
		want string
	}{
		{"empty", nil, "bb1d6929e95937287fa37d129b756746"},
		{"16 bytes", mustHex(t, "6bc1bee22e409f96e93d7e117393172a"), "070a16b46b4d4144f79bdd9dd04a287c"},
	}

	for _, c := range cases {
		got, err := aesCMAC(key, c.msg)
		if err != nil {
			t.Fatalf("%s: aesCMAC: %v", c.name, err)
		}
		want := mustHex(t, c.want)
		if !bytes.Equal(got, want) {
			t.Fatalf("%s: got %X, want %X", c.name, got, want)
		}
	}
}

func TestTruncateOddBytesPicksOddIndices(t *testing.T) {
	cmac := make([]byte, 16)
	for i := range cmac {
		cmac[i] = byte(i)
	}
	got := truncateOddBytes(cmac)
	want := []byte{1, 3, 5, 7, 9, 11, 13, 15}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRotateLeftRightAreInverses(t *testing.T) {
	in := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	rotated := rotateLeft1(in)
	back := rotateRight1(rotated)
	if !bytes.Equal(in, back) {
		t.Fatalf("round trip mismatch: in=%X back=%X", in, back)
	}
	// rotateLeft1 moves byte 0 to the end.
	if rotated[15] != in[0] {
		t.Fatalf("expected last byte %02X, got %02X", in[0], rotated[15])
	}
}

func TestRotateRightMovesLastByteToFront(t *testing.T) {
	in := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	rotated := rotateRight1(in)
	if rotated[0] != in[15] {
		t.Fatalf("expected first byte %02X, got %02X", in[15], rotated[0])
	}
}

func TestPadUnpadISO9797M2RoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("a"),
		bytes.Repeat([]byte{0x42}, 15),
		bytes.Repeat([]byte{0x42}, 16),
		bytes.Repeat([]byte{0x42}, 17),
	}
	for _, data := range cases {
		padded := padISO9797M2(data)
		if len(padded)%16 != 0 {
			t.Fatalf("padded length %d not block aligned for input len %d", len(padded), len(data))
		}
		unpadded, err := unpadISO9797M2(padded)
		if err != nil {
			t.Fatalf("unpad failed for input len %d: %v", len(data), err)
		}
		if !bytes.Equal(unpadded, data) {
			t.Fatalf("round trip mismatch: got %X want %X", unpadded, data)
		}
	}
}

func TestCRC32DESFireKnownVector(t *testing.T) {
	got := CRC32DESFire([]byte("123456789"))
	const want = 0x340BC6D9
	if got != want {
		t.Fatalf("got %08X, want %08X", got, want)
	}
}

func TestAESCBCEncryptDecryptRoundTrip(t *testing.T) {
	key := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	iv := make([]byte, 16)
	plain := mustHex(t, "00112233445566778899aabbccddeeff0011223344556677")
	padded := padISO9797M2(plain)

	ct, err := aesCBCEncrypt(key, iv, padded)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	pt, err := aesCBCDecrypt(key, iv, ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(pt, padded) {
		t.Fatalf("round trip mismatch: got %X want %X", pt, padded)
	}
}
