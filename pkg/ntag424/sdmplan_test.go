package ntag424

import (
	"bytes"
	"testing"
)

func TestPlanSDMOffsetsMatchNDEFBytes(t *testing.T) {
	tmpl := SDMUrlTemplate{
		BaseURL:        "https://example.com/tap?uid=00000000000000&ctr=000000&mac=0000000000000000",
		UIDPlaceholder: "00000000000000",
		CtrPlaceholder: "000000",
		MACPlaceholder: "0000000000000000",
	}
	plan, err := PlanSDM(tmpl)
	if err != nil {
		t.Fatalf("PlanSDM: %v", err)
	}
	if plan.Options != SDMOptUIDMirror|SDMOptReadCtr {
		t.Fatalf("Options = %02X, want UID|ReadCtr", plan.Options)
	}

	// The "https://" prefix is abbreviated out of the NDEF payload, so offsets
	// point into the record body, not the literal BaseURL string.
	uidField := plan.NDEF[plan.UIDOffset : plan.UIDOffset+uint32(len(tmpl.UIDPlaceholder))]
	if !bytes.Equal(uidField, []byte(tmpl.UIDPlaceholder)) {
		t.Fatalf("UIDOffset does not point at the UID placeholder: got %q", uidField)
	}
	ctrField := plan.NDEF[plan.ReadCtrOffset : plan.ReadCtrOffset+uint32(len(tmpl.CtrPlaceholder))]
	if !bytes.Equal(ctrField, []byte(tmpl.CtrPlaceholder)) {
		t.Fatalf("ReadCtrOffset does not point at the counter placeholder: got %q", ctrField)
	}
	macField := plan.NDEF[plan.MACOffset : plan.MACOffset+uint32(len(tmpl.MACPlaceholder))]
	if !bytes.Equal(macField, []byte(tmpl.MACPlaceholder)) {
		t.Fatalf("MACOffset does not point at the MAC placeholder: got %q", macField)
	}
	wantMACInput := plan.UIDOffset
	if plan.ReadCtrOffset < wantMACInput {
		wantMACInput = plan.ReadCtrOffset
	}
	if plan.MACInputOffset != wantMACInput {
		t.Fatalf("MACInputOffset = %d, want %d (earliest mirrored field)", plan.MACInputOffset, wantMACInput)
	}
}

// The conventional zero-filled placeholders nest: the 6-zero counter run
// appears inside both the 14-zero UID run and the 16-zero MAC run, and the
// UID run reappears inside the MAC run. Planning must still resolve each
// placeholder to its own span instead of reporting a false ambiguity.
func TestPlanSDMResolvesNestedZeroRuns(t *testing.T) {
	tmpl := SDMUrlTemplate{
		BaseURL:        "https://example.com/tap?uid=00000000000000&ctr=000000&cmac=0000000000000000",
		UIDPlaceholder: "00000000000000",
		CtrPlaceholder: "000000",
		MACPlaceholder: "0000000000000000",
	}
	plan, err := PlanSDM(tmpl)
	if err != nil {
		t.Fatalf("PlanSDM: %v", err)
	}
	if plan.UIDOffset == 0 || plan.ReadCtrOffset == 0 || plan.MACOffset == 0 {
		t.Fatalf("expected all three offsets assigned, got %+v", plan)
	}
	if plan.UIDOffset >= plan.ReadCtrOffset || plan.ReadCtrOffset >= plan.MACOffset {
		t.Fatalf("offsets must follow the template's field order: uid=%d ctr=%d mac=%d",
			plan.UIDOffset, plan.ReadCtrOffset, plan.MACOffset)
	}
	ctrField := plan.NDEF[plan.ReadCtrOffset : plan.ReadCtrOffset+uint32(len(tmpl.CtrPlaceholder))]
	if string(ctrField) != tmpl.CtrPlaceholder {
		t.Fatalf("ReadCtrOffset does not point at the counter placeholder: got %q", ctrField)
	}
}

func TestPlanSDMRejectsMissingPlaceholder(t *testing.T) {
	tmpl := SDMUrlTemplate{
		BaseURL:        "https://example.com/tap?uid=AABBCCDDEEFF00",
		UIDPlaceholder: "00000000000000",
	}
	if _, err := PlanSDM(tmpl); err == nil {
		t.Fatalf("expected error when the placeholder text is absent from BaseURL")
	}
}

func TestPlanSDMRejectsDuplicatePlaceholder(t *testing.T) {
	tmpl := SDMUrlTemplate{
		BaseURL:        "https://example.com/tap?a=00000000000000&b=00000000000000",
		UIDPlaceholder: "00000000000000",
	}
	if _, err := PlanSDM(tmpl); err == nil {
		t.Fatalf("expected error when the placeholder text matches more than once")
	}
}

func TestPlanSDMRejectsOverlappingPlaceholders(t *testing.T) {
	tmpl := SDMUrlTemplate{
		BaseURL:        "https://example.com/tap?x=000000000000000",
		UIDPlaceholder: "00000000000000",
		CtrPlaceholder: "0000000000000",
	}
	if _, err := PlanSDM(tmpl); err == nil {
		t.Fatalf("expected error when UID and counter placeholders overlap")
	}
}

func TestPlanSDMRejectsNonAbsoluteURL(t *testing.T) {
	tmpl := SDMUrlTemplate{
		BaseURL:        "/tap?uid=00000000000000",
		UIDPlaceholder: "00000000000000",
	}
	if _, err := PlanSDM(tmpl); err == nil {
		t.Fatalf("expected error for a relative BaseURL")
	}
}

func TestPlanSDMNoPlaceholdersIsConfigError(t *testing.T) {
	if _, err := PlanSDM(SDMUrlTemplate{BaseURL: "https://example.com/tap"}); err == nil {
		t.Fatalf("expected error when no placeholders are configured")
	}
}
