package ntag424

import (
	"encoding/hex"
	"testing"
)

// multiFrameCard answers GetVersion's three-part exchange with fixed
// per-call responses regardless of the APDU sent.
type multiFrameCard struct {
	frames [][]byte
	calls  int
}

func (m *multiFrameCard) Transmit(apdu []byte) ([]byte, error) {
	if m.calls >= len(m.frames) {
		return nil, errUnexpectedCall
	}
	f := m.frames[m.calls]
	m.calls++
	return f, nil
}

func TestGetVersionDecodesThreeFrames(t *testing.T) {
	// part 1: HW info (7 bytes) + SW=91AF (more data)
	part1, err := hex.DecodeString("04040102001F05" + "91AF")
	if err != nil {
		t.Fatalf("bad part1 fixture: %v", err)
	}
	// part 2: SW info (7 bytes) + SW=91AF
	part2, err := hex.DecodeString("04040502001005" + "91AF")
	if err != nil {
		t.Fatalf("bad part2 fixture: %v", err)
	}
	// part 3: UID(7) + batch(5) + fabkey(1) + prod date(1) + SW=9100
	part3, err := hex.DecodeString("a1b2c3d4e5f601" + "0203040504" + "19" + "25" + "9100")
	if err != nil {
		t.Fatalf("bad part3 fixture: %v", err)
	}

	card := &multiFrameCard{frames: [][]byte{part1, part2, part3}}
	v, err := GetVersion(card)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}

	if v.HWVendorID != 0x04 || v.HWType != 0x04 || v.HWSubType != 0x01 {
		t.Fatalf("unexpected HW identity fields: %+v", v)
	}
	if v.HWMajorVer != 0x02 || v.HWMinorVer != 0x00 || v.HWStorageSize != 0x1F || v.HWProtocol != 0x05 {
		t.Fatalf("unexpected HW version/storage/protocol: %+v", v)
	}
	if v.SWVendorID != 0x04 || v.SWSubType != 0x05 || v.SWMajorVer != 0x02 || v.SWStorageSize != 0x10 {
		t.Fatalf("unexpected SW fields: %+v", v)
	}
	if hex.EncodeToString(v.UID) != "a1b2c3d4e5f601" {
		t.Fatalf("UID = %X, want a1b2c3d4e5f601", v.UID)
	}
	if hex.EncodeToString(v.BatchNo) != "0203040504" {
		t.Fatalf("BatchNo = %X", v.BatchNo)
	}
	if v.FabKey != 0x19 {
		t.Fatalf("FabKey = %02X, want 19", v.FabKey)
	}
	if v.ProdYear != 0x02 || v.ProdWeek != 0x05 {
		t.Fatalf("ProdYear/Week = %d/%d, want 2/5", v.ProdYear, v.ProdWeek)
	}
}

func TestGetVersionRejectsShortFirstFrame(t *testing.T) {
	short, _ := hex.DecodeString("0404" + "91AF")
	card := &multiFrameCard{frames: [][]byte{short}}
	if _, err := GetVersion(card); err == nil {
		t.Fatalf("expected error for a short first GetVersion frame")
	}
}

func TestGetVersionPropagatesTransportFailureOnSecondFrame(t *testing.T) {
	part1, _ := hex.DecodeString("04040102001F05" + "91AF")
	card := &multiFrameCard{frames: [][]byte{part1}}
	if _, err := GetVersion(card); err == nil {
		t.Fatalf("expected error when the second GetVersion frame can't be fetched")
	}
}
