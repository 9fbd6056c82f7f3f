package ntag424

import (
	"encoding/hex"
	"testing"
)

// macResponse assembles a CommModeMAC response frame (data ‖ MACt ‖ SW) the
// way the tag would, but with a caller-chosen counter value in the MAC input,
// so counter-desync detection can be exercised directly.
func macResponse(t *testing.T, s *Session, ctr uint16, data []byte, sw uint16) []byte {
	t.Helper()
	macIn := make([]byte, 0, 7+len(data))
	macIn = append(macIn, byte(sw&0xFF))
	macIn = append(macIn, byte(ctr&0xFF), byte(ctr>>8))
	macIn = append(macIn, s.ti[:]...)
	macIn = append(macIn, data...)
	cmac, err := aesCMAC(s.kmac[:], macIn)
	if err != nil {
		t.Fatalf("aesCMAC: %v", err)
	}
	out := append(append([]byte{}, data...), truncateOddBytes(cmac)...)
	return append(out, byte(sw>>8), byte(sw))
}

func TestExecuteMACVerifiesResponseAndBumps(t *testing.T) {
	s := testSession()
	resp := macResponse(t, s, s.cmdCtr+1, []byte{0x01}, SWDESFireOK)
	card := &fakeCard{responses: [][]byte{resp}}

	out, err := Execute(card, s, CommandDescriptor{INS: 0x64, Mode: CommModeMAC, Header: []byte{0x00}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if hex.EncodeToString(out) != "01" {
		t.Fatalf("got %X, want 01", out)
	}
	if s.CmdCtr() != 1 {
		t.Fatalf("expected CmdCtr=1, got %d", s.CmdCtr())
	}
	if !s.Valid() {
		t.Fatalf("session should remain valid after a verified MAC response")
	}
}

func TestExecuteMACCounterMismatchInvalidates(t *testing.T) {
	s := testSession()
	// The responder MACs over CmdCtr+2 instead of CmdCtr+1, as if the two
	// sides had desynchronised by one command.
	resp := macResponse(t, s, s.cmdCtr+2, []byte{0x01}, SWDESFireOK)
	card := &fakeCard{responses: [][]byte{resp}}

	_, err := Execute(card, s, CommandDescriptor{INS: 0x64, Mode: CommModeMAC, Header: []byte{0x00}})
	if err == nil {
		t.Fatalf("expected integrity error on counter mismatch")
	}
	if _, ok := err.(*IntegrityError); !ok {
		t.Fatalf("expected *IntegrityError, got %T (%v)", err, err)
	}
	if s.Valid() {
		t.Fatalf("a counter-desynced response MAC must invalidate the session")
	}
	if s.CmdCtr() != 0 {
		t.Fatalf("CmdCtr must not advance on a rejected response, got %d", s.CmdCtr())
	}

	// The wrapper must refuse to emit another frame on the dead session.
	if _, err := Execute(card, s, CommandDescriptor{INS: 0x64, Mode: CommModeMAC, Header: []byte{0x00}}); err == nil {
		t.Fatalf("expected refusal to execute on an invalidated session")
	}
}

func TestExecuteMACTamperedBodyInvalidates(t *testing.T) {
	s := testSession()
	resp := macResponse(t, s, s.cmdCtr+1, []byte{0x01}, SWDESFireOK)
	resp[0] ^= 0xFF // flip a response data bit under an otherwise valid MAC
	card := &fakeCard{responses: [][]byte{resp}}

	_, err := Execute(card, s, CommandDescriptor{INS: 0x64, Mode: CommModeMAC, Header: []byte{0x00}})
	if err == nil {
		t.Fatalf("expected integrity error for a tampered response body")
	}
	if s.Valid() {
		t.Fatalf("a response MAC mismatch must invalidate the session")
	}
}
