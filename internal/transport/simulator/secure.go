package simulator

import "bytes"

// commandIV mirrors pkg/ntag424's commandIV: ECB-encrypt(Kenc, A5 5A
// CmdCtr(LE,2) TI(4) 00^8), with the leading bytes swapped for responses.
func (s *Simulator) commandIV(swapped bool, ctr uint16) ([]byte, error) {
	in := make([]byte, 16)
	if swapped {
		in[0], in[1] = 0x5A, 0xA5
	} else {
		in[0], in[1] = 0xA5, 0x5A
	}
	in[2] = byte(ctr & 0xFF)
	in[3] = byte(ctr >> 8)
	copy(in[4:8], s.auth.ti[:])
	return aesECBEncrypt(s.auth.kenc, in)
}

func (s *Simulator) macInput(ins byte, ctr uint16, header, body []byte) []byte {
	out := make([]byte, 0, 7+len(header)+len(body))
	out = append(out, ins)
	out = append(out, byte(ctr&0xFF), byte(ctr>>8))
	out = append(out, s.auth.ti[:]...)
	out = append(out, header...)
	out = append(out, body...)
	return out
}

// unwrapFull verifies and decrypts an incoming CommModeFull command body.
// Returns the plaintext command data (e.g. ChangeFileSettings' payload).
func (s *Simulator) unwrapFull(ins byte, header, body []byte) ([]byte, bool) {
	if !s.auth.active || len(body) < 8 {
		return nil, false
	}
	encData := body[:len(body)-8]
	mact := body[len(body)-8:]

	input := s.macInput(ins, s.auth.cmdCtr, header, encData)
	cmac, err := aesCMAC(s.auth.kmac, input)
	if err != nil || !bytes.Equal(mact, truncateOddBytes(cmac)) {
		return nil, false
	}
	if len(encData) == 0 {
		return nil, true
	}
	iv, err := s.commandIV(false, s.auth.cmdCtr)
	if err != nil {
		return nil, false
	}
	dec, err := aesCBCDecrypt(s.auth.kenc, iv, encData)
	if err != nil {
		return nil, false
	}
	plain, err := unpadISO9797M2(dec)
	if err != nil {
		return nil, false
	}
	return plain, true
}

// unwrapMAC verifies a CommModeMAC command's trailing MACt. Unlike FULL,
// the body is never encrypted, so there is nothing to decrypt.
func (s *Simulator) unwrapMAC(ins byte, header, body []byte) bool {
	if !s.auth.active || len(body) < 8 {
		return false
	}
	mact := body[len(body)-8:]
	input := s.macInput(ins, s.auth.cmdCtr, header, nil)
	cmac, err := aesCMAC(s.auth.kmac, input)
	return err == nil && bytes.Equal(mact, truncateOddBytes(cmac))
}

// wrapMACResponse MACs a CommModeMAC response (plaintext data, no encryption)
// and advances the session's command counter.
func (s *Simulator) wrapMACResponse(sw uint16, plain []byte) []byte {
	ctr1 := s.auth.cmdCtr + 1
	macIn := make([]byte, 0, 7+len(plain))
	macIn = append(macIn, byte(sw&0xFF))
	macIn = append(macIn, byte(ctr1&0xFF), byte(ctr1>>8))
	macIn = append(macIn, s.auth.ti[:]...)
	macIn = append(macIn, plain...)
	cmac, _ := aesCMAC(s.auth.kmac, macIn)
	mact := truncateOddBytes(cmac)

	s.auth.cmdCtr = ctr1

	out := make([]byte, 0, len(plain)+len(mact))
	out = append(out, plain...)
	out = append(out, mact...)
	return withStatus(out, sw)
}

// wrapFullResponse encrypts and MACs a CommModeFull response, and advances
// the session's command counter the way a real tag does after it has
// finished processing a verified wrapped command.
func (s *Simulator) wrapFullResponse(sw uint16, plain []byte) []byte {
	ctr1 := s.auth.cmdCtr + 1
	var encResp []byte
	if len(plain) > 0 {
		ivr, err := s.commandIV(true, ctr1)
		if err == nil {
			enc, err := aesCBCEncrypt(s.auth.kenc, ivr, padISO9797M2(plain))
			if err == nil {
				encResp = enc
			}
		}
	}
	macIn := make([]byte, 0, 7+len(encResp))
	macIn = append(macIn, byte(sw&0xFF))
	macIn = append(macIn, byte(ctr1&0xFF), byte(ctr1>>8))
	macIn = append(macIn, s.auth.ti[:]...)
	macIn = append(macIn, encResp...)
	cmac, _ := aesCMAC(s.auth.kmac, macIn)
	mact := truncateOddBytes(cmac)

	s.auth.cmdCtr = ctr1

	out := make([]byte, 0, len(encResp)+len(mact))
	out = append(out, encResp...)
	out = append(out, mact...)
	return withStatus(out, sw)
}
