package simulator

import (
	"bytes"
	"crypto/rand"
)

// handleNative dispatches DESFire-native commands (CLA 0x90).
func (s *Simulator) handleNative(ins byte, apdu []byte) []byte {
	switch ins {
	case 0x60:
		return s.handleGetVersion1()
	case 0xAF:
		return s.handleAdditionalFrame(apdu)
	case 0x71:
		return s.handleAuthPhase1(apdu)
	case 0xF5:
		return s.handleGetFileSettings(apdu)
	case 0x5F:
		return s.handleChangeFileSettings(apdu)
	case 0xAD:
		return s.handleReadData(apdu)
	case 0x8D:
		return s.handleWriteData(apdu)
	case 0xC4:
		return s.handleChangeKey(apdu)
	case 0x64:
		return s.handleGetKeyVersion(apdu)
	case 0xF6:
		return s.handleGetFileCounters(apdu)
	default:
		return statusOnly(swLengthError)
	}
}

func (s *Simulator) handleGetVersion1() []byte {
	s.gvStep = 1
	resp := []byte{0x04, 0x04, 0x02, 0x01, 0x00, 0x12, 0x05}
	return withStatus(resp, swMoreData)
}

// handleAdditionalFrame serves the 0xAF continuation for both GetVersion's
// two remaining frames and EV2First's phase 2, chosen by whichever exchange
// is currently in progress.
func (s *Simulator) handleAdditionalFrame(apdu []byte) []byte {
	if s.gvStep == 1 {
		s.gvStep = 2
		resp := []byte{0x04, 0x04, 0x02, 0x01, 0x00, 0x12, 0x05}
		return withStatus(resp, swMoreData)
	}
	if s.gvStep == 2 {
		s.gvStep = 0
		resp := make([]byte, 14)
		copy(resp[0:7], s.UID[:])
		resp[12] = 0x00
		resp[13] = 0x26
		return withStatus(resp, swDESFireOK)
	}
	if s.auth.phase == 1 {
		return s.handleAuthPhase2(apdu)
	}
	return statusOnly(swLengthError)
}

func (s *Simulator) handleAuthPhase1(apdu []byte) []byte {
	if len(apdu) < 6 {
		return statusOnly(swLengthError)
	}
	keyNo := apdu[5]
	if int(keyNo) >= len(s.keys) {
		return statusOnly(swParameterErr)
	}
	rndB := make([]byte, 16)
	if _, err := rand.Read(rndB); err != nil {
		return statusOnly(swLengthError)
	}
	key := s.keys[keyNo]
	enc, err := aesCBCEncrypt(key[:], make([]byte, 16), rndB)
	if err != nil {
		return statusOnly(swLengthError)
	}
	s.auth = authState{phase: 1, keyNo: keyNo, rndB: rndB}
	return withStatus(enc, swMoreData)
}

func (s *Simulator) handleAuthPhase2(apdu []byte) []byte {
	if len(apdu) < 6 {
		return statusOnly(swLengthError)
	}
	lc := int(apdu[4])
	if len(apdu) < 5+lc || lc != 32 {
		return statusOnly(swLengthError)
	}
	encRndAB := apdu[5 : 5+32]
	key := s.keys[s.auth.keyNo]
	dec, err := aesCBCDecrypt(key[:], make([]byte, 16), encRndAB)
	if err != nil {
		return statusOnly(swLengthError)
	}
	rndA := dec[:16]
	rndBRotGot := dec[16:32]
	rndBRotWant := rotateLeft1(s.auth.rndB)
	if !bytes.Equal(rndBRotGot, rndBRotWant) {
		s.auth = authState{}
		return statusOnly(swAuthError)
	}

	ti := make([]byte, 4)
	if _, err := rand.Read(ti); err != nil {
		return statusOnly(swLengthError)
	}
	rndARot := rotateLeft1(rndA)
	plain := make([]byte, 0, 32)
	plain = append(plain, ti...)
	plain = append(plain, rndARot...)
	plain = append(plain, 0x00, 0x00, 0x00, 0x00) // PDcap2/PCDcap2
	for len(plain) < 32 {
		plain = append(plain, 0x00)
	}
	enc, err := aesCBCEncrypt(key[:], make([]byte, 16), plain)
	if err != nil {
		return statusOnly(swLengthError)
	}

	sesEnc, sesMac, err := deriveSessionKeys(key[:], rndA, s.auth.rndB)
	if err != nil {
		return statusOnly(swLengthError)
	}

	keyNo := s.auth.keyNo
	s.auth = authState{
		active: true,
		keyNo:  keyNo,
		rndA:   rndA,
		kenc:   sesEnc,
		kmac:   sesMac,
		cmdCtr: 0,
	}
	copy(s.auth.ti[:], ti)

	return withStatus(enc, swDESFireOK)
}
