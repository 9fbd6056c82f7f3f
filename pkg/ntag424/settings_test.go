package ntag424

import "testing"

// TestBuildChangeFileSettingsDataLc21Scenario exercises the offset combination
// used when a file mirrors both UID and counter, requires MAC verification,
// and caps the counter with a ReadCtrLimit but does not mirror encrypted file
// data: SDMOptions = UID|ReadCtr|ReadCtrLimit (0xE0). The resulting
// plaintext payload is 21 bytes; ChangeFileSettingsSDM sends it under
// CommModeFull, so the APDU's Lc is 1 (file number) + 32 (padded
// ciphertext) + 8 (MACt) = 41.
func TestBuildChangeFileSettingsDataLc21Scenario(t *testing.T) {
	const sdmOptions = SDMOptUIDMirror | SDMOptReadCtr | SDMOptReadCtrLimit // 0xE0
	data := BuildChangeFileSettingsData(
		byte(CommModeMAC), 0xE0, 0x00,
		sdmOptions, 0x0E, 0x00, 0x00,
		0x100, 0x106, 0x10C, 0x112, 0, 0, 0x00FFFF,
	)
	if len(data) != 21 {
		t.Fatalf("expected a 21-byte payload, got %d: %X", len(data), data)
	}
	if data[0]&0x03 != byte(CommModeMAC) {
		t.Fatalf("fileOption comm mode bits = %02X, want %02X", data[0]&0x03, CommModeMAC)
	}
	if data[0]&0x40 == 0 {
		t.Fatalf("fileOption SDM bit should be set when SDMOptions is non-zero")
	}
	if data[3] != sdmOptions {
		t.Fatalf("SDMOptions byte = %02X, want %02X", data[3], sdmOptions)
	}
}

func TestParseFileSettingsRoundTripsChangeFileSettingsLayout(t *testing.T) {
	const sdmOptions = SDMOptUIDMirror | SDMOptReadCtr | SDMOptReadCtrLimit
	body := BuildChangeFileSettingsData(
		byte(CommModeMAC), 0xE0, 0x00,
		sdmOptions, 0x0E, 0x00, 0x00,
		0x100, 0x106, 0x10C, 0x112, 0, 0, 0x002000,
	)

	raw := []byte{0x00, body[0], 0xE0, 0x00, 0x00, 0x01, 0x00}
	raw = append(raw, body[3:]...)

	fs, err := ParseFileSettings(raw)
	if err != nil {
		t.Fatalf("ParseFileSettings: %v", err)
	}
	if fs.SDMOptions != sdmOptions {
		t.Fatalf("SDMOptions = %02X, want %02X", fs.SDMOptions, sdmOptions)
	}
	if fs.SDMMeta != 0x0E {
		t.Fatalf("SDMMeta = %02X, want 0E", fs.SDMMeta)
	}
	if fs.UIDOffset != 0x100 {
		t.Fatalf("UIDOffset = %X, want 100", fs.UIDOffset)
	}
	if fs.CtrOffset != 0x106 {
		t.Fatalf("CtrOffset = %X, want 106", fs.CtrOffset)
	}
	if fs.MACInputOffset != 0x10C {
		t.Fatalf("MACInputOffset = %X, want 10C", fs.MACInputOffset)
	}
	if fs.MACOffset != 0x112 {
		t.Fatalf("MACOffset = %X, want 112", fs.MACOffset)
	}
	if fs.ReadCtrLimit != 0x002000 {
		t.Fatalf("ReadCtrLimit = %X, want 2000", fs.ReadCtrLimit)
	}
	if fs.EncOffset != 0 || fs.EncLength != 0 {
		t.Fatalf("encrypted file data offsets should be absent from this layout")
	}
}

func TestParseFileSettingsNoSDM(t *testing.T) {
	raw := []byte{0x00, 0x00, 0xE0, 0x00, 0x00, 0x01, 0x00}
	fs, err := ParseFileSettings(raw)
	if err != nil {
		t.Fatalf("ParseFileSettings: %v", err)
	}
	if fs.SDMOptions != 0 || fs.UIDOffset != 0 {
		t.Fatalf("plain file should carry no SDM fields, got %+v", fs)
	}
}

func TestAccessRightsCodecRoundTripsAllNibbles(t *testing.T) {
	for r := byte(0); r <= 0x0F; r++ {
		for w := byte(0); w <= 0x0F; w++ {
			for rw := byte(0); rw <= 0x0F; rw++ {
				for c := byte(0); c <= 0x0F; c++ {
					in := AccessRights{Read: r, Write: w, ReadWrite: rw, Change: c}
					ar1, ar2 := in.Encode()
					if got := DecodeAccessRights(ar1, ar2); got != in {
						t.Fatalf("round trip mismatch: in=%+v wire=%02X%02X out=%+v", in, ar1, ar2, got)
					}
				}
			}
		}
	}
}

func TestAccessRightsEncodeWireBytes(t *testing.T) {
	a := AccessRights{Read: AccessFree, Write: 0x02, ReadWrite: 0x02, Change: 0x00}
	ar1, ar2 := a.Encode()
	if ar1 != 0x20 || ar2 != 0xE2 {
		t.Fatalf("Encode = %02X %02X, want 20 E2", ar1, ar2)
	}
}

func TestParseFileSettingsTooShort(t *testing.T) {
	if _, err := ParseFileSettings([]byte{0x00, 0x00}); err == nil {
		t.Fatalf("expected error for undersized file settings response")
	}
}
