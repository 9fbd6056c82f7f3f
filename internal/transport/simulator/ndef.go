package simulator

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
)

const (
	sdmUIDLenASCII = 14
	sdmCtrLenASCII = 6
	sdmMacLenASCII = 16
)

// buildSDMNDEF constructs, independently, the NDEF/URI layout pkg/ntag424's
// BuildSDMNDEF produces for a provisioned tag, so the simulator's starting
// file contents and mirror offsets match what ChangeFileSettings would have
// configured against a real tag. Unlike BuildSDMNDEF, it drops any query
// parameters baseURL already carries, so the two layouts are the same only
// for a base URL without a query.
func buildSDMNDEF(baseURL string) (ndef []byte, uidOffset, ctrOffset, macInputOffset, macOffset uint32, err error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, 0, 0, 0, 0, fmt.Errorf("invalid URL: %w", err)
	}
	parsed.Fragment = ""

	var params []string
	params = append(params, fmt.Sprintf("uid=%s", strings.Repeat("0", sdmUIDLenASCII)))
	params = append(params, fmt.Sprintf("ctr=%s", strings.Repeat("0", sdmCtrLenASCII)))
	params = append(params, fmt.Sprintf("mac=%s", strings.Repeat("0", sdmMacLenASCII)))
	parsed.RawQuery = strings.Join(params, "&")
	fullURL := parsed.String()

	prefixCode := byte(0x00)
	uri := fullURL
	for _, p := range []struct {
		prefix string
		code   byte
	}{
		{prefix: "https://www.", code: 0x02},
		{prefix: "http://www.", code: 0x01},
		{prefix: "https://", code: 0x04},
		{prefix: "http://", code: 0x03},
	} {
		if strings.HasPrefix(fullURL, p.prefix) {
			prefixCode = p.code
			uri = fullURL[len(p.prefix):]
			break
		}
	}

	payloadLen := 1 + len(uri)
	recordLen := 4 + payloadLen
	totalLen := 2 + recordLen

	out := make([]byte, totalLen)
	out[0] = byte((recordLen >> 8) & 0xFF)
	out[1] = byte(recordLen & 0xFF)
	out[2] = 0xD1
	out[3] = 0x01
	out[4] = byte(payloadLen)
	out[5] = 0x55
	out[6] = prefixCode
	copy(out[7:], []byte(uri))

	uidIdx := bytes.Index(out, []byte("uid="))
	ctrIdx := bytes.Index(out, []byte("ctr="))
	macIdx := bytes.Index(out, []byte("mac="))
	if uidIdx < 0 || ctrIdx < 0 || macIdx < 0 {
		return nil, 0, 0, 0, 0, fmt.Errorf("failed to locate uid/ctr/mac in NDEF")
	}

	return out, uint32(uidIdx + 4), uint32(ctrIdx + 4), uint32(uidIdx), uint32(macIdx + 4), nil
}
