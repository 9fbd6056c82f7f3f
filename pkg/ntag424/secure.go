package ntag424

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

// CommMode selects how a CommandDescriptor's header and data are protected
// on the wire, mirroring the three modes a file's access-rights settings can
// demand: Plain (no protection), MAC (authenticity only), Full (confidentiality
// and authenticity).
type CommMode int

const (
	CommModePlain CommMode = iota
	CommModeMAC
	CommModeFull
)

func (m CommMode) String() string {
	switch m {
	case CommModePlain:
		return "plain"
	case CommModeMAC:
		return "mac"
	case CommModeFull:
		return "full"
	default:
		return "unknown"
	}
}

// CommandDescriptor is a tagged variant describing one wrapped DESFire
// command: which INS byte, which CommMode applies to it, the cleartext
// header bytes sent immediately after Lc, and the payload bytes that Mode
// governs. Execute dispatches on Mode rather than each caller hand-rolling
// its own wrapping.
type CommandDescriptor struct {
	INS    byte
	Mode   CommMode
	Header []byte
	Data   []byte
}

// Execute runs one CommandDescriptor against an authenticated session: it
// builds the wire APDU per Mode, transmits it, verifies/decrypts the
// response, and advances or invalidates the session's command counter.
//
// A command counter increments on every fully verified round trip that
// transmitted successfully, regardless of the status word the tag
// returned — PermissionError, AuthError and the other
// sessionSurvivableStatusWords still bump CmdCtr, since the tag itself
// advanced its own counter when it processed the wrapped frame. Anything
// else (transport failure, malformed response, MAC mismatch, an
// unrecognised status word) invalidates the session.
func Execute(card Card, sess *Session, d CommandDescriptor) ([]byte, error) {
	if !sess.Valid() {
		return nil, &ConfigError{Detail: "session is not valid"}
	}
	if err := sess.markInFlight(); err != nil {
		return nil, err
	}
	defer sess.clearInFlight()

	switch d.Mode {
	case CommModeFull:
		return executeFull(card, sess, d)
	case CommModeMAC:
		return executeMAC(card, sess, d)
	default:
		return executePlain(card, sess, d)
	}
}

// commandIV builds the per-command keystream IV: ECB-encrypt(Kenc, A5 5A
// CmdCtr(LE,2) TI(4) 00^8). Response IVs use the same layout with the
// leading bytes swapped to 5A A5 and CmdCtr+1.
func commandIV(sess *Session, swapped bool, ctr uint16) ([]byte, error) {
	in := make([]byte, 16)
	if swapped {
		in[0], in[1] = 0x5A, 0xA5
	} else {
		in[0], in[1] = 0xA5, 0x5A
	}
	in[2] = byte(ctr & 0xFF)
	in[3] = byte(ctr >> 8)
	copy(in[4:8], sess.ti[:])
	return aesECBEncrypt(sess.kenc[:], in)
}

func buildMACInput(ins byte, ctr uint16, ti [4]byte, header, body []byte) []byte {
	out := make([]byte, 0, 7+len(header)+len(body))
	out = append(out, ins)
	out = append(out, byte(ctr&0xFF), byte(ctr>>8))
	out = append(out, ti[:]...)
	out = append(out, header...)
	out = append(out, body...)
	return out
}

func executeFull(card Card, sess *Session, d CommandDescriptor) ([]byte, error) {
	var encData []byte
	var err error
	if len(d.Data) > 0 {
		iv, ivErr := commandIV(sess, false, sess.cmdCtr)
		if ivErr != nil {
			sess.invalidate()
			return nil, &IntegrityError{Op: "commandIV", Detail: ivErr.Error()}
		}
		encData, err = aesCBCEncrypt(sess.kenc[:], iv, padISO9797M2(d.Data))
		if err != nil {
			sess.invalidate()
			return nil, &IntegrityError{Op: "encrypt", Detail: err.Error()}
		}
	}

	macInput := buildMACInput(d.INS, sess.cmdCtr, sess.ti, d.Header, encData)
	mac, err := aesCMAC(sess.kmac[:], macInput)
	if err != nil {
		sess.invalidate()
		return nil, &IntegrityError{Op: "mac", Detail: err.Error()}
	}
	mact := truncateOddBytes(mac)

	dataLen := len(d.Header) + len(encData) + len(mact)
	if dataLen > 255 {
		return nil, &ConfigError{Detail: "wrapped command data exceeds 255 bytes"}
	}
	apdu := make([]byte, 0, 6+dataLen)
	apdu = append(apdu, 0x90, d.INS, 0x00, 0x00, byte(dataLen))
	apdu = append(apdu, d.Header...)
	apdu = append(apdu, encData...)
	apdu = append(apdu, mact...)
	apdu = append(apdu, 0x00)

	slog.Debug("secure messaging full", "ins", fmt.Sprintf("0x%02X", d.INS),
		"apdu", strings.ToUpper(hex.EncodeToString(apdu)))

	resp, sw, err := Transmit(card, apdu)
	if err != nil {
		sess.invalidate()
		return nil, &TransportError{Op: "execute", Cause: err}
	}
	return finishFull(sess, d.INS, sw, resp)
}

func finishFull(sess *Session, ins byte, sw uint16, resp []byte) ([]byte, error) {
	if sw != SWDESFireOK {
		if !sessionSurvivableStatusWords[sw] {
			sess.invalidate()
			return nil, &ProtocolError{Op: "execute", SW: sw}
		}
		if err := sess.bump(); err != nil {
			return nil, err
		}
		if sw == SWPermDenied {
			return nil, &PermissionError{Op: "execute", SW: sw}
		}
		return nil, &ProtocolError{Op: "execute", SW: sw}
	}
	if len(resp) < 8 {
		sess.invalidate()
		return nil, &IntegrityError{Op: "execute", Detail: fmt.Sprintf("response too short (len=%d)", len(resp))}
	}

	respEncLen := len(resp) - 8
	respEnc := resp[:respEncLen]
	respMac := resp[respEncLen:]

	ctr1 := sess.cmdCtr + 1
	macIn := make([]byte, 0, 7+respEncLen)
	macIn = append(macIn, byte(sw&0xFF))
	macIn = append(macIn, byte(ctr1&0xFF), byte(ctr1>>8))
	macIn = append(macIn, sess.ti[:]...)
	macIn = append(macIn, respEnc...)

	cmac, err := aesCMAC(sess.kmac[:], macIn)
	if err != nil {
		sess.invalidate()
		return nil, &IntegrityError{Op: "execute", Detail: err.Error()}
	}
	if !bytes.Equal(respMac, truncateOddBytes(cmac)) {
		sess.invalidate()
		return nil, &IntegrityError{Op: "execute", Detail: "response MAC mismatch"}
	}

	out := []byte{}
	if respEncLen > 0 {
		ivr, err := commandIV(sess, true, ctr1)
		if err != nil {
			sess.invalidate()
			return nil, &IntegrityError{Op: "execute", Detail: err.Error()}
		}
		dec, err := aesCBCDecrypt(sess.kenc[:], ivr, respEnc)
		if err != nil {
			sess.invalidate()
			return nil, &IntegrityError{Op: "execute", Detail: err.Error()}
		}
		out, err = unpadISO9797M2(dec)
		if err != nil {
			sess.invalidate()
			return nil, &IntegrityError{Op: "execute", Detail: "bad response padding"}
		}
	}

	if err := sess.bump(); err != nil {
		return nil, err
	}
	return out, nil
}

func executeMAC(card Card, sess *Session, d CommandDescriptor) ([]byte, error) {
	macInput := buildMACInput(d.INS, sess.cmdCtr, sess.ti, d.Header, d.Data)
	mac, err := aesCMAC(sess.kmac[:], macInput)
	if err != nil {
		sess.invalidate()
		return nil, &IntegrityError{Op: "mac", Detail: err.Error()}
	}
	mact := truncateOddBytes(mac)

	dataLen := len(d.Header) + len(d.Data) + len(mact)
	if dataLen > 255 {
		return nil, &ConfigError{Detail: "wrapped command data exceeds 255 bytes"}
	}
	apdu := make([]byte, 0, 6+dataLen)
	apdu = append(apdu, 0x90, d.INS, 0x00, 0x00, byte(dataLen))
	apdu = append(apdu, d.Header...)
	apdu = append(apdu, d.Data...)
	apdu = append(apdu, mact...)
	apdu = append(apdu, 0x00)

	resp, sw, err := Transmit(card, apdu)
	if err != nil {
		sess.invalidate()
		return nil, &TransportError{Op: "execute", Cause: err}
	}
	return finishMAC(sess, sw, resp)
}

// finishMAC verifies a CommMode=MAC response: unlike FULL, RespData travels
// in the clear — only the trailing 8-byte MACt needs stripping and checking.
func finishMAC(sess *Session, sw uint16, resp []byte) ([]byte, error) {
	if sw != SWDESFireOK {
		if !sessionSurvivableStatusWords[sw] {
			sess.invalidate()
			return nil, &ProtocolError{Op: "execute", SW: sw}
		}
		if err := sess.bump(); err != nil {
			return nil, err
		}
		if sw == SWPermDenied {
			return nil, &PermissionError{Op: "execute", SW: sw}
		}
		return nil, &ProtocolError{Op: "execute", SW: sw}
	}
	if len(resp) < 8 {
		sess.invalidate()
		return nil, &IntegrityError{Op: "execute", Detail: fmt.Sprintf("response too short (len=%d)", len(resp))}
	}

	respDataLen := len(resp) - 8
	respData := resp[:respDataLen]
	respMac := resp[respDataLen:]

	ctr1 := sess.cmdCtr + 1
	macIn := make([]byte, 0, 7+respDataLen)
	macIn = append(macIn, byte(sw&0xFF))
	macIn = append(macIn, byte(ctr1&0xFF), byte(ctr1>>8))
	macIn = append(macIn, sess.ti[:]...)
	macIn = append(macIn, respData...)

	cmac, err := aesCMAC(sess.kmac[:], macIn)
	if err != nil {
		sess.invalidate()
		return nil, &IntegrityError{Op: "execute", Detail: err.Error()}
	}
	if !bytes.Equal(respMac, truncateOddBytes(cmac)) {
		sess.invalidate()
		return nil, &IntegrityError{Op: "execute", Detail: "response MAC mismatch"}
	}

	if err := sess.bump(); err != nil {
		return nil, err
	}
	return respData, nil
}

func executePlain(card Card, sess *Session, d CommandDescriptor) ([]byte, error) {
	dataLen := len(d.Header) + len(d.Data)
	if dataLen > 255 {
		return nil, &ConfigError{Detail: "wrapped command data exceeds 255 bytes"}
	}
	apdu := make([]byte, 0, 6+dataLen)
	apdu = append(apdu, 0x90, d.INS, 0x00, 0x00, byte(dataLen))
	apdu = append(apdu, d.Header...)
	apdu = append(apdu, d.Data...)
	apdu = append(apdu, 0x00)

	resp, sw, err := Transmit(card, apdu)
	if err != nil {
		sess.invalidate()
		return nil, &TransportError{Op: "execute", Cause: err}
	}
	if sw != SWDESFireOK {
		if !sessionSurvivableStatusWords[sw] {
			sess.invalidate()
			return nil, &ProtocolError{Op: "execute", SW: sw}
		}
		if err := sess.bump(); err != nil {
			return nil, err
		}
		if sw == SWPermDenied {
			return nil, &PermissionError{Op: "execute", SW: sw}
		}
		return nil, &ProtocolError{Op: "execute", SW: sw}
	}
	if err := sess.bump(); err != nil {
		return nil, err
	}
	return resp, nil
}

// BuildSsmApdu is retained for callers (diagnostics, offline tooling) that
// need the raw wire bytes of a CommModeFull command without transmitting it.
func BuildSsmApdu(sess *Session, cmd byte, header, data []byte) (apdu, macInput, encData, mact []byte, err error) {
	if !sess.Valid() {
		return nil, nil, nil, nil, &ConfigError{Detail: "session is not valid"}
	}
	if len(data) > 0 {
		iv, ivErr := commandIV(sess, false, sess.cmdCtr)
		if ivErr != nil {
			return nil, nil, nil, nil, ivErr
		}
		encData, err = aesCBCEncrypt(sess.kenc[:], iv, padISO9797M2(data))
		if err != nil {
			return nil, nil, nil, nil, err
		}
	} else {
		encData = []byte{}
	}
	macInput = buildMACInput(cmd, sess.cmdCtr, sess.ti, header, encData)
	cmac, err := aesCMAC(sess.kmac[:], macInput)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	mact = truncateOddBytes(cmac)

	dataLen := len(header) + len(encData) + len(mact)
	if dataLen > 255 {
		return nil, nil, nil, nil, fmt.Errorf("APDU data too long")
	}
	apdu = make([]byte, 0, 6+dataLen)
	apdu = append(apdu, 0x90, cmd, 0x00, 0x00, byte(dataLen))
	apdu = append(apdu, header...)
	apdu = append(apdu, encData...)
	apdu = append(apdu, mact...)
	apdu = append(apdu, 0x00)
	return apdu, macInput, encData, mact, nil
}

// SsmCmdFull executes a CommModeFull command via Execute. Kept as a thin
// adapter for existing call sites that predate CommandDescriptor.
func SsmCmdFull(card Card, sess *Session, cmd byte, header, data []byte) ([]byte, error) {
	return Execute(card, sess, CommandDescriptor{INS: cmd, Mode: CommModeFull, Header: header, Data: data})
}
