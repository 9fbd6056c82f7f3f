// Package simulator implements an in-memory NTAG 424 DNA tag, exposing the
// same wire-level APDU surface a real tag answers, so the rest of the
// toolkit can be exercised end to end without PC/SC hardware.
package simulator

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Status words, duplicated from pkg/ntag424's taxonomy since the simulator
// plays the tag's side of the wire and must not import the client package.
const (
	swSuccess       = 0x9000
	swDESFireOK     = 0x9100
	swMoreData      = 0x91AF
	swLengthError   = 0x917E
	swIntegrityErr  = 0x911E
	swAuthError     = 0x91AE
	swPermDenied    = 0x919D
	swParameterErr  = 0x919E
	swBoundaryError = 0x911C
	swFileNotFound  = 0x6A82
	swWrongLength   = 0x6700
)

const ndefAppAIDHex = "D2760000850101"

// fileRecord holds one of the tag's three application files.
type fileRecord struct {
	id       uint16
	data     []byte
	fileType byte
	ar1, ar2 byte // access rights nibbles, see pkg/ntag424/settings.go
	commMode byte
	sdm      *sdmConfig
}

type sdmConfig struct {
	options        byte
	meta           byte
	file           byte
	ctr            byte
	uidOffset      uint32
	ctrOffset      uint32
	macInputOffset uint32
	macOffset      uint32
	encOffset      uint32
	encLength      uint32
	readCtrLimit   uint32
	readCounter    uint32
}

// authState tracks an in-progress or completed EV2First handshake.
type authState struct {
	active bool
	phase  int // 0=idle, 1=phase1 done, awaiting phase2
	keyNo  byte
	rndA   []byte
	rndB   []byte
	kenc   []byte
	kmac   []byte
	ti     [4]byte
	cmdCtr uint16
}

// Simulator is an in-memory NTAG 424 DNA tag. It implements the Card
// interface (Transmit) so it can be handed to any pkg/ntag424 operation in
// place of a PC/SC connection.
type Simulator struct {
	UID         [7]byte
	keys        [5][16]byte
	keyVersions [5]byte

	ccFile   *fileRecord
	ndefFile *fileRecord
	dataFile *fileRecord
	files    map[uint16]*fileRecord

	ndefBaseURL string
	selectedApp bool
	selectedFID uint16

	auth   authState
	gvStep int
}

// New constructs a simulator with a random UID, all-zero default keys (the
// factory state of a real NTAG 424 DNA tag), and the standard three-file
// layout with a placeholder NDEF URL and SDM mirrors pre-wired.
func New(baseURL string) *Simulator {
	s := &Simulator{
		ndefBaseURL: baseURL,
		files:       make(map[uint16]*fileRecord),
	}
	if _, err := rand.Read(s.UID[:]); err != nil {
		panic(err)
	}
	s.UID[0] = 0x04 // NXP manufacturer byte, matches real UIDs

	s.ccFile = &fileRecord{id: 0xE103, data: buildCCFile(), fileType: 0x00, ar1: 0x00, ar2: 0xE0}
	s.ndefFile = &fileRecord{id: 0xE104, data: make([]byte, 256), fileType: 0x00, ar1: 0x20, ar2: 0xE2}
	s.dataFile = &fileRecord{id: 0xE105, data: make([]byte, 128), fileType: 0x00, ar1: 0x00, ar2: 0x00}
	s.files[0xE103] = s.ccFile
	s.files[0xE104] = s.ndefFile
	s.files[0xE105] = s.dataFile

	s.rebuildNDEF()
	return s
}

// SetKey installs a key directly, bypassing ChangeKey — used to seed a
// simulator with the keys a test or diagnostic fixture expects to find.
func (s *Simulator) SetKey(slot byte, key [16]byte, version byte) {
	s.keys[slot] = key
	s.keyVersions[slot] = version
}

func buildCCFile() []byte {
	cc := make([]byte, 15)
	cc[0], cc[1] = 0x00, 0x0F // CCLEN
	cc[2] = 0x20              // mapping version 2.0
	cc[3], cc[4] = 0x00, 0x3B // MLe
	cc[5], cc[6] = 0x00, 0x34 // MLc
	cc[7] = 0x04              // NDEF File Control TLV tag
	cc[8] = 0x06              // length
	cc[9], cc[10] = 0xE1, 0x04
	cc[11], cc[12] = 0x01, 0x00 // file size
	cc[13] = 0x00               // read access free
	cc[14] = 0x00               // write access free by default
	return cc
}

// Transmit implements the ntag424.Card interface.
func (s *Simulator) Transmit(apdu []byte) ([]byte, error) {
	if len(apdu) < 4 {
		return nil, fmt.Errorf("apdu too short")
	}
	cla, ins := apdu[0], apdu[1]

	switch {
	case cla == 0xFF && ins == 0xCA:
		return s.handleGetUID(), nil
	case cla == 0x00 && ins == 0xA4:
		return s.handleSelect(apdu), nil
	case cla == 0x00 && ins == 0xB0:
		return s.handleReadBinary(apdu), nil
	case cla == 0x00 && ins == 0xD6:
		return s.handleUpdateBinary(apdu), nil
	case cla == 0x90:
		return s.handleNative(ins, apdu), nil
	default:
		return statusOnly(swFileNotFound), nil
	}
}

func statusOnly(sw uint16) []byte {
	return []byte{byte(sw >> 8), byte(sw)}
}

func withStatus(data []byte, sw uint16) []byte {
	out := make([]byte, 0, len(data)+2)
	out = append(out, data...)
	out = append(out, byte(sw>>8), byte(sw))
	return out
}

func (s *Simulator) handleGetUID() []byte {
	return withStatus(s.UID[:], swSuccess)
}

func (s *Simulator) handleSelect(apdu []byte) []byte {
	if len(apdu) < 5 {
		return statusOnly(swWrongLength)
	}
	p1, p2 := apdu[2], apdu[3]
	lc := int(apdu[4])
	if len(apdu) < 5+lc {
		return statusOnly(swWrongLength)
	}
	data := apdu[5 : 5+lc]

	// Selecting anything resets the native authentication session, matching
	// real tag behavior: the file system layer and secure messaging layer
	// don't share state across a SELECT.
	s.auth = authState{}

	if p1 == 0x04 && p2 == 0x00 {
		aid := strings.ToUpper(fmt.Sprintf("%X", data))
		if aid == ndefAppAIDHex {
			s.selectedApp = true
			s.selectedFID = 0
			return statusOnly(swSuccess)
		}
		return statusOnly(swFileNotFound)
	}
	if p1 == 0x00 && p2 == 0x0C && len(data) == 2 {
		fid := uint16(data[0])<<8 | uint16(data[1])
		if _, ok := s.files[fid]; ok {
			s.selectedFID = fid
			return statusOnly(swSuccess)
		}
		return statusOnly(swFileNotFound)
	}
	return statusOnly(swFileNotFound)
}

func (s *Simulator) handleReadBinary(apdu []byte) []byte {
	if len(apdu) < 5 || s.selectedFID == 0 {
		return statusOnly(swFileNotFound)
	}
	f, ok := s.files[s.selectedFID]
	if !ok {
		return statusOnly(swFileNotFound)
	}
	offset := int(apdu[2])<<8 | int(apdu[3])
	le := int(apdu[4])
	if le == 0 {
		le = 256
	}

	content := f.data
	if f == s.ndefFile {
		content = s.ndefWireBytes()
	}
	if offset > len(content) {
		return statusOnly(swBoundaryError)
	}
	end := offset + le
	if end > len(content) {
		end = len(content)
	}
	return withStatus(content[offset:end], swSuccess)
}

func (s *Simulator) handleUpdateBinary(apdu []byte) []byte {
	if len(apdu) < 5 || s.selectedFID == 0 {
		return statusOnly(swFileNotFound)
	}
	f, ok := s.files[s.selectedFID]
	if !ok {
		return statusOnly(swFileNotFound)
	}
	offset := int(apdu[2])<<8 | int(apdu[3])
	lc := int(apdu[4])
	if len(apdu) < 5+lc {
		return statusOnly(swWrongLength)
	}
	data := apdu[5 : 5+lc]
	if offset+len(data) > len(f.data) {
		return statusOnly(swBoundaryError)
	}
	copy(f.data[offset:], data)
	return statusOnly(swSuccess)
}

func (s *Simulator) rebuildNDEF() {
	ndef, uidOff, ctrOff, macInOff, macOff, err := buildSDMNDEF(s.ndefBaseURL)
	if err != nil {
		return
	}
	copy(s.ndefFile.data, ndef)
	for i := len(ndef); i < len(s.ndefFile.data); i++ {
		s.ndefFile.data[i] = 0
	}
	s.ndefFile.sdm = &sdmConfig{
		options:        0xC1,
		meta:           0x0E,
		file:           0x00,
		ctr:            0x00,
		uidOffset:      uidOff,
		ctrOffset:      ctrOff,
		macInputOffset: macInOff,
		macOffset:      macOff,
	}
	s.ndefFile.ar1 = 0x20
	s.ndefFile.ar2 = 0xE2
}

// ndefWireBytes returns the NDEF file contents with the SDM mirrors (UID,
// read counter, MAC) patched in, exactly like a real tag's on-tap mutation.
func (s *Simulator) ndefWireBytes() []byte {
	out := make([]byte, len(s.ndefFile.data))
	copy(out, s.ndefFile.data)
	cfg := s.ndefFile.sdm
	if cfg == nil {
		return out
	}
	cfg.readCounter++

	uidHex := []byte(strings.ToUpper(fmt.Sprintf("%X", s.UID[:])))
	copy(out[cfg.uidOffset:], uidHex)

	ctr := cfg.readCounter
	ctrHex := []byte(strings.ToUpper(fmt.Sprintf("%06X", ctr)))
	copy(out[cfg.ctrOffset:], ctrHex)

	ctrLE := []byte{byte(ctr), byte(ctr >> 8), byte(ctr >> 16)}
	sdmKey := s.keys[1]
	sessionKey, err := deriveSDMSessionKey(sdmKey[:], s.UID[:], ctrLE)
	if err == nil {
		macInput := out[cfg.macInputOffset:cfg.macOffset]
		mac, err := aesCMAC(sessionKey, macInput)
		if err == nil {
			truncated := truncateOddBytes(mac)
			macHex := []byte(strings.ToUpper(fmt.Sprintf("%X", truncated)))
			copy(out[cfg.macOffset:], macHex)
		}
	}
	return out
}

func deriveSDMSessionKey(baseKey, uid, ctrLE []byte) ([]byte, error) {
	sv2 := make([]byte, 0, 16)
	sv2 = append(sv2, 0x3C, 0xC3, 0x00, 0x01, 0x00, 0x80)
	sv2 = append(sv2, uid...)
	sv2 = append(sv2, ctrLE...)
	return aesCMAC(baseKey, sv2)
}
