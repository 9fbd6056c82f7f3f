package ntag424

import (
	"bytes"
	"testing"
)

func TestBuildChangeKeyDataSameSlotLayout(t *testing.T) {
	newKey := bytes.Repeat([]byte{0xAB}, 16)
	data := buildChangeKeyData(newKey, nil, 0x01, true)
	if len(data) != 21 {
		t.Fatalf("same-slot payload must be 21 bytes, got %d", len(data))
	}
	if !bytes.Equal(data[:16], newKey) {
		t.Fatalf("same-slot payload must carry the new key in the clear inside the envelope")
	}
	if data[16] != 0x01 {
		t.Fatalf("key version byte = %02X, want 01", data[16])
	}
	if !bytes.Equal(data[17:21], crc32le(CRC32DESFire(newKey))) {
		t.Fatalf("trailing CRC must be CRC32(NewKey) little-endian, got %X", data[17:21])
	}
}

func TestBuildChangeKeyDataCrossSlotLayout(t *testing.T) {
	newKey := mustHex(t, "00112233445566778899aabbccddeeff")
	oldKey := mustHex(t, "0f0e0d0c0b0a09080706050403020100")
	data := buildChangeKeyData(newKey, oldKey, 0x02, false)
	if len(data) != 25 {
		t.Fatalf("cross-slot payload must be 25 bytes, got %d", len(data))
	}
	xor := make([]byte, 16)
	for i := range xor {
		xor[i] = newKey[i] ^ oldKey[i]
	}
	if !bytes.Equal(data[:16], xor) {
		t.Fatalf("cross-slot payload must carry NewKey XOR OldKey, got %X", data[:16])
	}
	if data[16] != 0x02 {
		t.Fatalf("key version byte = %02X, want 02", data[16])
	}
	if !bytes.Equal(data[17:21], crc32le(CRC32DESFire(newKey))) {
		t.Fatalf("first CRC must be CRC32(NewKey), got %X", data[17:21])
	}
	if !bytes.Equal(data[21:25], crc32le(CRC32DESFire(xor))) {
		t.Fatalf("second CRC must be CRC32(NewKey XOR OldKey), got %X", data[21:25])
	}
}

func TestChangeKeyRejectsShortKeys(t *testing.T) {
	s := testSession()
	card := &fakeCard{}
	if err := ChangeKey(card, s, 0x02, make([]byte, 8), make([]byte, 16), 0x00, 0x00); err == nil {
		t.Fatalf("expected config error for a short new key")
	}
	if s.CmdCtr() != 0 {
		t.Fatalf("a configuration error must not advance CmdCtr")
	}
	if !s.Valid() {
		t.Fatalf("a configuration error must not invalidate the session")
	}
}
