package simulator

func u24le(v uint32) []byte {
	return []byte{byte(v & 0xFF), byte((v >> 8) & 0xFF), byte((v >> 16) & 0xFF)}
}

func readU24le(data []byte, offset int) uint32 {
	return uint32(data[offset]) | uint32(data[offset+1])<<8 | uint32(data[offset+2])<<16
}

func readU32le(data []byte, offset int) uint32 {
	return readU24le(data, offset) | uint32(data[offset+3])<<24
}

func (s *Simulator) fileByNo(fileNo byte) *fileRecord {
	switch fileNo {
	case 0x01:
		return s.ccFile
	case 0x02:
		return s.ndefFile
	case 0x03:
		return s.dataFile
	default:
		return nil
	}
}

func (s *Simulator) handleGetFileSettings(apdu []byte) []byte {
	if len(apdu) < 6 {
		return statusOnly(swLengthError)
	}
	lc := int(apdu[4])
	fileNo := apdu[5]
	f := s.fileByNo(fileNo)
	if f == nil {
		return statusOnly(swFileNotFound)
	}

	plain := lc == 1
	settings := buildFileSettingsResponse(f)

	if plain {
		return withStatus(settings, swDESFireOK)
	}
	body := apdu[6 : 5+lc]
	dec, ok := s.unwrapFull(0xF5, []byte{fileNo}, body)
	_ = dec
	if !ok {
		return statusOnly(swAuthError)
	}
	return s.wrapFullResponse(swDESFireOK, settings)
}

func buildFileSettingsResponse(f *fileRecord) []byte {
	out := make([]byte, 0, 32)
	fileOption := f.commMode & 0x03
	if f.sdm != nil {
		fileOption |= 0x40
	}
	out = append(out, f.fileType, fileOption, f.ar1, f.ar2)
	size := len(f.data)
	out = append(out, byte(size), byte(size>>8), byte(size>>16))

	if f.sdm == nil {
		return out
	}
	cfg := f.sdm
	sdmAR := uint16(cfg.meta&0x0F)<<12 | uint16(cfg.file&0x0F)<<8 | 0x0F<<4 | uint16(cfg.ctr&0x0F)
	out = append(out, cfg.options, byte(sdmAR&0xFF), byte(sdmAR>>8))

	if (cfg.options&0x80) != 0 && cfg.meta == 0x0E {
		out = append(out, u24le(cfg.uidOffset)...)
	}
	if (cfg.options&0x40) != 0 && cfg.meta == 0x0E {
		out = append(out, u24le(cfg.ctrOffset)...)
	}
	if cfg.file != 0x0F {
		out = append(out, u24le(cfg.macInputOffset)...)
		out = append(out, u24le(cfg.macOffset)...)
	}
	if (cfg.options & 0x10) != 0 {
		out = append(out, u24le(cfg.encOffset)...)
		out = append(out, u24le(cfg.encLength)...)
	}
	if (cfg.options & 0x20) != 0 {
		out = append(out, u24le(cfg.readCtrLimit)...)
	}
	return out
}

func (s *Simulator) handleChangeFileSettings(apdu []byte) []byte {
	if len(apdu) < 6 {
		return statusOnly(swLengthError)
	}
	lc := int(apdu[4])
	fileNo := apdu[5]
	f := s.fileByNo(fileNo)
	if f == nil {
		return statusOnly(swFileNotFound)
	}
	body := apdu[6 : 5+lc]
	plain, ok := s.unwrapFull(0x5F, []byte{fileNo}, body)
	if !ok {
		return s.wrapFullResponse(swAuthError, nil)
	}
	if len(plain) < 3 {
		return s.wrapFullResponse(swParameterErr, nil)
	}

	fileOption := plain[0]
	if fileOption&0x40 != 0 && len(plain) < 6 {
		return s.wrapFullResponse(swParameterErr, nil)
	}
	f.ar1 = plain[1]
	f.ar2 = plain[2]
	f.commMode = fileOption & 0x03

	if fileOption&0x40 == 0 {
		f.sdm = nil
		return s.wrapFullResponse(swDESFireOK, nil)
	}

	idx := 3
	sdmOptions := plain[idx]
	sdmAR := uint16(plain[idx+1]) | uint16(plain[idx+2])<<8
	cfg := &sdmConfig{
		options: sdmOptions,
		meta:    byte((sdmAR >> 12) & 0x0F),
		file:    byte((sdmAR >> 8) & 0x0F),
		ctr:     byte(sdmAR & 0x0F),
	}
	idx += 3

	if (sdmOptions&0x80) != 0 && cfg.meta == 0x0E {
		cfg.uidOffset = readU24le(plain, idx)
		idx += 3
	}
	if (sdmOptions&0x40) != 0 && cfg.meta == 0x0E {
		cfg.ctrOffset = readU24le(plain, idx)
		idx += 3
	}
	if cfg.file != 0x0F {
		cfg.macInputOffset = readU24le(plain, idx)
		cfg.macOffset = readU24le(plain, idx+3)
		idx += 6
	}
	if (sdmOptions & 0x10) != 0 {
		cfg.encOffset = readU24le(plain, idx)
		cfg.encLength = readU24le(plain, idx+3)
		idx += 6
	}
	if (sdmOptions & 0x20) != 0 {
		cfg.readCtrLimit = readU24le(plain, idx)
	}

	f.sdm = cfg
	return s.wrapFullResponse(swDESFireOK, nil)
}

func (s *Simulator) handleReadData(apdu []byte) []byte {
	if len(apdu) < 6 {
		return statusOnly(swLengthError)
	}
	lc := int(apdu[4])
	body := apdu[5 : 5+lc]

	if !s.auth.active {
		if lc != 7 {
			return statusOnly(swLengthError)
		}
		fileNo := body[0]
		f := s.fileByNo(fileNo)
		if f == nil {
			return statusOnly(swFileNotFound)
		}
		offset := int(body[1]) | int(body[2])<<8 | int(body[3])<<16
		length := int(body[4]) | int(body[5])<<8 | int(body[6])<<16
		return readSlice(f.data, offset, length)
	}

	plain, ok := s.unwrapFull(0xAD, nil, body)
	if !ok || len(plain) != 7 {
		return s.wrapFullResponse(swAuthError, nil)
	}
	fileNo := plain[0]
	f := s.fileByNo(fileNo)
	if f == nil {
		return s.wrapFullResponse(swParameterErr, nil)
	}
	offset := int(plain[1]) | int(plain[2])<<8 | int(plain[3])<<16
	length := int(plain[4]) | int(plain[5])<<8 | int(plain[6])<<16
	if offset > len(f.data) {
		return s.wrapFullResponse(swBoundaryError, nil)
	}
	end := offset + length
	if end > len(f.data) {
		end = len(f.data)
	}
	return s.wrapFullResponse(swDESFireOK, f.data[offset:end])
}

func readSlice(data []byte, offset, length int) []byte {
	if offset > len(data) {
		return statusOnly(swBoundaryError)
	}
	end := offset + length
	if end > len(data) {
		end = len(data)
	}
	return withStatus(data[offset:end], swDESFireOK)
}

func (s *Simulator) handleWriteData(apdu []byte) []byte {
	if len(apdu) < 6 || !s.auth.active {
		return statusOnly(swAuthError)
	}
	lc := int(apdu[4])
	body := apdu[5 : 5+lc]
	plain, ok := s.unwrapFull(0x8D, nil, body)
	if !ok || len(plain) < 7 {
		return s.wrapFullResponse(swAuthError, nil)
	}
	fileNo := plain[0]
	f := s.fileByNo(fileNo)
	if f == nil {
		return s.wrapFullResponse(swParameterErr, nil)
	}
	offset := int(plain[1]) | int(plain[2])<<8 | int(plain[3])<<16
	data := plain[7:]
	if offset+len(data) > len(f.data) {
		return s.wrapFullResponse(swBoundaryError, nil)
	}
	copy(f.data[offset:], data)
	return s.wrapFullResponse(swDESFireOK, nil)
}

func (s *Simulator) handleChangeKey(apdu []byte) []byte {
	if len(apdu) < 6 || !s.auth.active {
		return statusOnly(swAuthError)
	}
	lc := int(apdu[4])
	keySlot := apdu[5]
	body := apdu[6 : 5+lc]

	if int(keySlot) >= len(s.keys) {
		return s.wrapFullResponse(swParameterErr, nil)
	}

	sameSlot := keySlot == s.auth.keyNo
	plain, ok := s.unwrapChangeKey(keySlot, body)
	if !ok {
		if sameSlot {
			s.auth = authState{}
			return statusOnly(swAuthError)
		}
		return s.wrapFullResponse(swAuthError, nil)
	}

	if sameSlot {
		// NewKey(16) + version(1) + CRC32(NewKey)(4), CRC little-endian.
		if len(plain) != 21 {
			s.auth = authState{}
			return statusOnly(swLengthError)
		}
		newKey := plain[:16]
		version := plain[16]
		if readU32le(plain, 17) != crc32DESFire(newKey) {
			s.auth = authState{}
			return statusOnly(swIntegrityErr)
		}
		var k [16]byte
		copy(k[:], newKey)
		s.keys[keySlot] = k
		s.keyVersions[keySlot] = version
		s.auth = authState{}
		return statusOnly(swDESFireOK)
	}

	// XOR(16) + version(1) + CRC32(NewKey)(4) + CRC32(XOR)(4).
	if len(plain) != 25 {
		return s.wrapFullResponse(swLengthError, nil)
	}
	oldKey := s.keys[keySlot]
	xor := plain[:16]
	version := plain[16]
	var newKey [16]byte
	for i := range newKey {
		newKey[i] = xor[i] ^ oldKey[i]
	}
	if readU32le(plain, 17) != crc32DESFire(newKey[:]) || readU32le(plain, 21) != crc32DESFire(xor) {
		return s.wrapFullResponse(swIntegrityErr, nil)
	}
	s.keys[keySlot] = newKey
	s.keyVersions[keySlot] = version
	return s.wrapFullResponse(swDESFireOK, nil)
}

func (s *Simulator) handleGetKeyVersion(apdu []byte) []byte {
	if len(apdu) < 6 || !s.auth.active {
		return statusOnly(swAuthError)
	}
	lc := int(apdu[4])
	keyNo := apdu[5]
	mact := apdu[6 : 5+lc]
	if !s.unwrapMAC(0x64, []byte{keyNo}, mact) {
		return s.wrapMACResponse(swAuthError, nil)
	}
	if int(keyNo) >= len(s.keyVersions) {
		return s.wrapMACResponse(swParameterErr, nil)
	}
	return s.wrapMACResponse(swDESFireOK, []byte{s.keyVersions[keyNo]})
}

func (s *Simulator) handleGetFileCounters(apdu []byte) []byte {
	if len(apdu) < 6 || !s.auth.active {
		return statusOnly(swAuthError)
	}
	lc := int(apdu[4])
	fileNo := apdu[5]
	mact := apdu[6 : 5+lc]
	if !s.unwrapMAC(0xF6, []byte{fileNo}, mact) {
		return s.wrapMACResponse(swAuthError, nil)
	}
	f := s.fileByNo(fileNo)
	if f == nil || f.sdm == nil {
		return s.wrapMACResponse(swParameterErr, nil)
	}
	ctr := f.sdm.readCounter
	return s.wrapMACResponse(swDESFireOK, []byte{byte(ctr), byte(ctr >> 8), byte(ctr >> 16)})
}

// unwrapChangeKey decrypts and verifies a ChangeKey payload. Same-slot
// changes have no response MAC (the session keys vanish with the command),
// but the request MAC still verifies under the current session keys.
func (s *Simulator) unwrapChangeKey(keySlot byte, body []byte) ([]byte, bool) {
	plain, ok := s.unwrapFull(0xC4, []byte{keySlot}, body)
	return plain, ok
}
