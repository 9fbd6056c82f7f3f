package ntag424

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// SDM option bits (SDMOptions byte of a file's SDM settings).
const (
	SDMOptUIDMirror    byte = 0x80
	SDMOptReadCtr      byte = 0x40
	SDMOptReadCtrLimit byte = 0x20
	SDMOptEncFileData  byte = 0x10
	SDMOptTagTamper    byte = 0x01
)

// SDMUrlTemplate describes the URL a provisioned tag should emit on tap, as
// literal placeholder substrings the planner locates by exact substring
// match. Placeholders are detected by their text, not by position: the
// caller writes the URL the way it will look with the tag's substitutions
// filled in with zeros, and PlanSDM works out where each field lands once
// the URL is framed as an NDEF URI record.
type SDMUrlTemplate struct {
	BaseURL        string
	UIDPlaceholder string // e.g. "00000000000000" (14 hex chars)
	CtrPlaceholder string // e.g. "000000" (6 hex chars)
	MACPlaceholder string // e.g. "0000000000000000" (16 hex chars)
}

// SDMPlan is the result of planning a SDMUrlTemplate: the assembled NDEF
// file payload (placeholders as written in the template) and the byte offsets
// ChangeFileSettings needs to tell the tag where to mirror each field on a
// future tap.
type SDMPlan struct {
	FinalURL string
	NDEF     []byte

	Options byte // SDMOptions bitmap

	UIDOffset      uint32
	ReadCtrOffset  uint32
	MACInputOffset uint32
	MACOffset      uint32
	EncOffset      uint32
	EncLength      uint32
	ReadCtrLimit   uint32
}

// uriAbbreviations is the NFC Forum URI Record Type Definition's prefix
// table, longest match first so "https://www." doesn't lose to "https://".
var uriAbbreviations = []struct {
	prefix string
	code   byte
}{
	{"https://www.", 0x02},
	{"http://www.", 0x01},
	{"https://", 0x04},
	{"http://", 0x03},
}

// PlanSDM builds the NDEF URI record for tmpl.BaseURL (the URL text is
// copied as written, placeholders included, ready for WriteNDEFData) and
// computes the byte offsets ChangeFileSettings needs to configure SDM
// mirroring.
// This generalizes a fixed URL layout to an arbitrary caller-supplied URL.
//
// Placeholders are resolved longest first; a match that overlaps a span
// already claimed by a longer placeholder is ignored. Each configured
// placeholder must then have exactly one remaining match in BaseURL: none
// or more than one is a configuration error, caught before any wire
// traffic.
func PlanSDM(tmpl SDMUrlTemplate) (*SDMPlan, error) {
	type placeholder struct {
		name string
		text string
	}
	var phs []placeholder
	if tmpl.UIDPlaceholder != "" {
		phs = append(phs, placeholder{"uid", tmpl.UIDPlaceholder})
	}
	if tmpl.CtrPlaceholder != "" {
		phs = append(phs, placeholder{"ctr", tmpl.CtrPlaceholder})
	}
	if tmpl.MACPlaceholder != "" {
		phs = append(phs, placeholder{"mac", tmpl.MACPlaceholder})
	}
	if len(phs) == 0 {
		return nil, &ConfigError{Detail: "SDMUrlTemplate has no placeholders configured"}
	}
	if tmpl.MACPlaceholder != "" && tmpl.UIDPlaceholder == "" && tmpl.CtrPlaceholder == "" {
		return nil, &ConfigError{Detail: "MAC placeholder requires UID and/or counter mirroring"}
	}

	// Assign placeholders longest-first, masking out each claimed span before
	// searching for the next one. A short placeholder's zero-run legitimately
	// reappears inside a longer one's (the conventional templates are all
	// zero-filled), so a raw second-occurrence probe over the whole URL would
	// reject every well-formed template. Only occurrences outside every
	// already-claimed span count; more than one of those is a genuine
	// ambiguity, zero is a missing placeholder.
	ordered := make([]placeholder, len(phs))
	copy(ordered, phs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].text) > len(ordered[j].text)
	})

	type span struct{ start, end int }
	var claimed []span
	positions := make(map[string]int, len(phs))
	for _, p := range ordered {
		var matches []int
		for from := 0; ; {
			j := strings.Index(tmpl.BaseURL[from:], p.text)
			if j < 0 {
				break
			}
			pos := from + j
			end := pos + len(p.text)
			overlaps := false
			for _, s := range claimed {
				if pos < s.end && s.start < end {
					overlaps = true
					break
				}
			}
			if !overlaps {
				matches = append(matches, pos)
			}
			from = pos + 1
		}
		if len(matches) == 0 {
			return nil, &ConfigError{Detail: fmt.Sprintf("placeholder %q (%s) not found in BaseURL", p.text, p.name)}
		}
		if len(matches) > 1 {
			return nil, &ConfigError{Detail: fmt.Sprintf("placeholder %q (%s) matches more than once in BaseURL", p.text, p.name)}
		}
		positions[p.name] = matches[0]
		claimed = append(claimed, span{matches[0], matches[0] + len(p.text)})
	}

	parsed, err := url.Parse(tmpl.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &ConfigError{Detail: "BaseURL must be an absolute URL with scheme and host"}
	}

	prefixCode := byte(0x00)
	uri := tmpl.BaseURL
	stripped := 0
	for _, a := range uriAbbreviations {
		if strings.HasPrefix(tmpl.BaseURL, a.prefix) {
			prefixCode = a.code
			uri = tmpl.BaseURL[len(a.prefix):]
			stripped = len(a.prefix)
			break
		}
	}

	payloadLen := 1 + len(uri) // prefix code + URI body
	if payloadLen > 255 {
		return nil, &ConfigError{Detail: "URI too long for a short NDEF record"}
	}
	recordLen := 4 + payloadLen // flags, typelen, payloadlen, type('U')
	totalLen := 2 + recordLen   // 2-byte big-endian NLEN prefix
	if totalLen > 256 {
		return nil, &ConfigError{Detail: "NDEF message exceeds a 256-byte file"}
	}

	const headerLen = 7 // NLEN(2) + flags/typelen/payloadlen/type(4) + prefix code(1)
	ndef := make([]byte, totalLen)
	ndef[0] = byte(recordLen >> 8)
	ndef[1] = byte(recordLen)
	ndef[2] = 0xD1 // MB=1, ME=1, SR=1, TNF=0x01 (well-known)
	ndef[3] = 0x01 // type length
	ndef[4] = byte(payloadLen)
	ndef[5] = 0x55 // type 'U' (URI)
	ndef[6] = prefixCode
	copy(ndef[headerLen:], []byte(uri))

	fileOffset := func(urlPos int) uint32 {
		return uint32(headerLen + (urlPos - stripped))
	}

	plan := &SDMPlan{FinalURL: tmpl.BaseURL, NDEF: ndef}
	if tmpl.UIDPlaceholder != "" {
		plan.Options |= SDMOptUIDMirror
		plan.UIDOffset = fileOffset(positions["uid"])
	}
	if tmpl.CtrPlaceholder != "" {
		plan.Options |= SDMOptReadCtr
		plan.ReadCtrOffset = fileOffset(positions["ctr"])
	}
	if tmpl.MACPlaceholder != "" {
		plan.MACOffset = fileOffset(positions["mac"])
		// MACInputOffset marks where the MAC'd ASCII region begins: the
		// earliest of the mirrored fields the tag writes before it.
		plan.MACInputOffset = plan.UIDOffset
		if tmpl.CtrPlaceholder != "" && (tmpl.UIDPlaceholder == "" || plan.ReadCtrOffset < plan.UIDOffset) {
			plan.MACInputOffset = plan.ReadCtrOffset
		}
	}

	return plan, nil
}

// ApplySDM pushes a planned SDM layout to the tag via ChangeFileSettingsSDM,
// reusing its wire encoding so the conditional-offset gating logic lives in
// one place. sdmMeta/sdmFile/sdmCtr are the SDM access-rights nibbles; sdmMeta must be
// 0x0E ("plain, no auth required") for UID/counter mirroring to take effect,
// matching the tag's own encoding rule.
func (p *SDMPlan) ApplySDM(card Card, sess *Session, fileNo byte, commMode byte, ar1, ar2 byte, sdmMeta, sdmFile, sdmCtr byte) error {
	return ChangeFileSettingsSDM(card, sess, fileNo, commMode, ar1, ar2,
		p.Options, sdmMeta, sdmFile, sdmCtr,
		p.UIDOffset, p.ReadCtrOffset, p.MACInputOffset, p.MACOffset, p.EncOffset, p.EncLength, p.ReadCtrLimit)
}
