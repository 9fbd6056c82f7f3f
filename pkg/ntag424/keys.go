package ntag424

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GetFileCounters retrieves a file's SDM read counter using DESFire
// GetFileCounters (INS 0xF6, CommMode MAC).
func GetFileCounters(card Card, sess *Session, fileNo byte) (uint32, error) {
	out, err := Execute(card, sess, CommandDescriptor{INS: 0xF6, Mode: CommModeMAC, Header: []byte{fileNo}})
	if err != nil {
		return 0, err
	}
	if len(out) != 3 {
		return 0, &IntegrityError{Op: "GetFileCounters", Detail: fmt.Sprintf("expected 3 bytes, got %d", len(out))}
	}
	return readU24le(out, 0), nil
}

// KeyFile represents a key loaded from a .hex file.
type KeyFile struct {
	Name string // File name (e.g., "key0.hex")
	Key  []byte // 16-byte AES key
}

// CRC32DESFire computes the CRC32 of data using the DESFire polynomial (0xEDB88320).
// Used for key versioning in ChangeKey operations.
func CRC32DESFire(data []byte) uint32 {
	poly := uint32(0xEDB88320)
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc ^= uint32(b)
		for i := 0; i < 8; i++ {
			if (crc & 1) != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc = crc >> 1
			}
		}
	}
	return crc
}

// LoadKeyHexFile loads a 16-byte AES key from a .hex file.
// The file should contain a single line with 32 hexadecimal characters.
func LoadKeyHexFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if len(line) != 32 {
			return nil, fmt.Errorf("key must be 32 hex chars, got %d", len(line))
		}
		key, err := hex.DecodeString(line)
		if err != nil {
			return nil, fmt.Errorf("invalid hex key: %v", err)
		}
		return key, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("key file is empty")
}

// LoadAllHexKeys loads all .hex key files from a directory.
// Returns a slice of KeyFile structs with name and key data.
// Skips invalid files silently.
func LoadAllHexKeys(dir string) ([]KeyFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var keys []KeyFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(e.Name())) != ".hex" {
			continue
		}

		path := filepath.Join(dir, e.Name())
		key, err := LoadKeyHexFile(path)
		if err != nil {
			continue // Skip invalid key files
		}

		keys = append(keys, KeyFile{
			Name: e.Name(),
			Key:  key,
		})
	}

	return keys, nil
}

// ChangeKey changes a key slot using DESFire ChangeKey (INS 0xC4) with cross-slot support.
//
// Parameters:
//   - card: Card interface
//   - sess: Active authenticated session
//   - keySlot: Slot to change (0-15)
//   - newKey: New 16-byte AES key
//   - oldKey: Old 16-byte AES key (for the cross-slot XOR and CRC)
//   - keyVersion: Key version byte (0x00 for no versioning)
//   - authSlot: Slot used for authentication
//
// Key data format (inside the FULL encryption):
//   - Same slot (keySlot == authSlot): NewKey(16) + version(1) + CRC_new(4) = 21 bytes
//   - Different slot: XOR(16) + version(1) + CRC_new(4) + CRC_xor(4) = 25 bytes
//
// CRCs are the DESFire CRC32 variant, serialised little-endian. Same-slot
// changes are routed through ChangeKeySame, which handles the missing
// response MAC and the session invalidation that follow.
func ChangeKey(card Card, sess *Session, keySlot byte, newKey, oldKey []byte, keyVersion byte, authSlot byte) error {
	if len(newKey) != 16 || len(oldKey) != 16 {
		return &ConfigError{Detail: "keys must be 16 bytes"}
	}
	if keySlot == authSlot {
		return ChangeKeySame(card, sess, keySlot, newKey, keyVersion)
	}
	keyData := buildChangeKeyData(newKey, oldKey, keyVersion, false)
	_, err := SsmCmdFull(card, sess, 0xC4, []byte{keySlot}, keyData)
	return err
}

// buildChangeKeyData assembles the plaintext ChangeKey payload. Same-slot
// changes carry the new key directly; cross-slot changes carry it XORed with
// the old key and append a second CRC over that XOR so the tag can check the
// caller actually knew the old key.
func buildChangeKeyData(newKey, oldKey []byte, keyVersion byte, sameSlot bool) []byte {
	if sameSlot {
		keyData := make([]byte, 0, 21)
		keyData = append(keyData, newKey...)
		keyData = append(keyData, keyVersion)
		return append(keyData, crc32le(CRC32DESFire(newKey))...)
	}
	xor := make([]byte, 16)
	for i := range xor {
		xor[i] = newKey[i] ^ oldKey[i]
	}
	keyData := make([]byte, 0, 25)
	keyData = append(keyData, xor...)
	keyData = append(keyData, keyVersion)
	keyData = append(keyData, crc32le(CRC32DESFire(newKey))...)
	return append(keyData, crc32le(CRC32DESFire(xor))...)
}

func crc32le(crc uint32) []byte {
	return []byte{byte(crc), byte(crc >> 8), byte(crc >> 16), byte(crc >> 24)}
}

// ChangeKeySame changes the same key slot used for authentication.
//
// IMPORTANT: This operation INVALIDATES the authentication session.
// The response has NO CMAC (status-only response).
//
// Parameters:
//   - card: Card interface
//   - sess: Active authenticated session (will be invalidated)
//   - keySlot: Slot to change (must match authenticated slot)
//   - newKey: New 16-byte AES key
//   - keyVersion: Key version byte (0x00 for no versioning)
//
// Key data format:
//   - NewKey(16) + KeyVersion(1) + CRC_new(4) — no XOR
//
// This function manually builds the secure messaging APDU because the response
// format is different (no CMAC).
func ChangeKeySame(card Card, sess *Session, keySlot byte, newKey []byte, keyVersion byte) error {
	if !sess.Valid() {
		return &ConfigError{Detail: "session is not valid"}
	}
	if len(newKey) != 16 {
		return &ConfigError{Detail: "new key must be 16 bytes"}
	}
	if err := sess.markInFlight(); err != nil {
		return err
	}
	defer sess.clearInFlight()

	padded := padISO9797M2(buildChangeKeyData(newKey, nil, keyVersion, true))

	ivc, err := commandIV(sess, false, sess.cmdCtr)
	if err != nil {
		return err
	}
	encData, err := aesCBCEncrypt(sess.kenc[:], ivc, padded)
	if err != nil {
		return err
	}

	header := []byte{keySlot}
	macInput := buildMACInput(0xC4, sess.cmdCtr, sess.ti, header, encData)
	cmac, err := aesCMAC(sess.kmac[:], macInput)
	if err != nil {
		return err
	}
	mact := truncateOddBytes(cmac)

	dataLen := len(header) + len(encData) + len(mact)
	if dataLen > 255 {
		return &ConfigError{Detail: "ChangeKeySame payload exceeds 255 bytes"}
	}
	apdu := make([]byte, 0, 6+dataLen)
	apdu = append(apdu, 0x90, 0xC4, 0x00, 0x00, byte(dataLen))
	apdu = append(apdu, header...)
	apdu = append(apdu, encData...)
	apdu = append(apdu, mact...)
	apdu = append(apdu, 0x00)

	// The tag's response carries no CMAC for a same-slot ChangeKey, since the
	// session keys it was computed under no longer exist after this command.
	_, sw, err := Transmit(card, apdu)
	sess.invalidate()
	if err != nil {
		return &TransportError{Op: "ChangeKeySame", Cause: err}
	}
	if sw != SWDESFireOK {
		return &ProtocolError{Op: "ChangeKeySame", SW: sw}
	}
	return nil
}

// GetKeyVersion retrieves the version byte of one key slot using DESFire
// GetKeyVersion (INS 0x64, CommMode MAC).
func GetKeyVersion(card Card, sess *Session, keyNo byte) (byte, error) {
	out, err := Execute(card, sess, CommandDescriptor{INS: 0x64, Mode: CommModeMAC, Header: []byte{keyNo}})
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, &IntegrityError{Op: "GetKeyVersion", Detail: fmt.Sprintf("expected 1 byte, got %d", len(out))}
	}
	return out[0], nil
}

// NewSessionFromMaterial constructs a Session directly from already-derived
// key material, bypassing AuthenticateEV2First. Used by offline tooling that
// replays a recorded authentication transcript (e.g. session keys captured
// during diagnostics) rather than performing the handshake itself.
func NewSessionFromMaterial(kenc, kmac, ti []byte, keyNo byte, cmdCtr uint16) (*Session, error) {
	if len(kenc) != 16 || len(kmac) != 16 || len(ti) != 4 {
		return nil, &ConfigError{Detail: "kenc/kmac must be 16 bytes and ti must be 4 bytes"}
	}
	s := &Session{authenticatedKeyNo: keyNo}
	copy(s.kenc[:], kenc)
	copy(s.kmac[:], kmac)
	copy(s.ti[:], ti)
	s.cmdCtr = cmdCtr
	return s, nil
}
