package toolkit_test

import (
	"path/filepath"
	"testing"

	"github.com/barnettlynn/ntag424sdm/internal/ledger"
	"github.com/barnettlynn/ntag424sdm/internal/toolkit"
	"github.com/barnettlynn/ntag424sdm/internal/transport/simulator"
	"github.com/barnettlynn/ntag424sdm/pkg/ntag424"
)

func TestDiagnoseFactoryTagReportsPlainFiles(t *testing.T) {
	sim := simulator.New("https://example.com/tap?uid=00000000000000&ctr=000000&cmac=0000000000000000")

	report, err := toolkit.Diagnose(sim, make([]byte, 16))
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if len(report.UID) != 14 {
		t.Fatalf("expected 14 hex char UID, got %q", report.UID)
	}
	if report.Version == nil {
		t.Fatalf("expected version info")
	}
	if len(report.AuthSlots) != 5 {
		t.Fatalf("expected 5 probed key slots, got %d", len(report.AuthSlots))
	}
	for _, slot := range report.AuthSlots {
		if !slot.Success {
			t.Fatalf("factory key should open every slot of a factory tag, slot %d failed: %v", slot.Slot, slot.Err)
		}
	}
	if len(report.Files) != 3 {
		t.Fatalf("expected 3 file reports, got %d", len(report.Files))
	}
}

func TestProvisionThenDiagnoseThenRestoreFactory(t *testing.T) {
	sim := simulator.New("https://example.com/tap?uid=00000000000000&ctr=000000&cmac=0000000000000000")
	ldgr := ledger.Open(filepath.Join(t.TempDir(), "ledger.csv"))

	tmpl := ntag424.SDMUrlTemplate{
		BaseURL:        "https://example.com/tap?uid=00000000000000&ctr=000000&cmac=0000000000000000",
		UIDPlaceholder: "00000000000000",
		CtrPlaceholder: "000000",
		MACPlaceholder: "0000000000000000",
	}
	factoryKey := make([]byte, 16)

	provReport, err := toolkit.Provision(sim, ldgr, factoryKey, tmpl)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if provReport.UID == "" {
		t.Fatalf("expected non-empty UID")
	}

	entry, ok, err := ldgr.Get(provReport.UID)
	if err != nil || !ok {
		t.Fatalf("expected ledger entry for %s: ok=%v err=%v", provReport.UID, ok, err)
	}
	if entry.Status != "provisioned" {
		t.Fatalf("expected status 'provisioned', got %q", entry.Status)
	}

	diagReport, err := toolkit.Diagnose(sim, provReport.PICCMasterKey)
	if err != nil {
		t.Fatalf("Diagnose after provision: %v", err)
	}
	if diagReport.UID != provReport.UID {
		t.Fatalf("UID mismatch: provision=%s diagnose=%s", provReport.UID, diagReport.UID)
	}
	if len(diagReport.AuthSlots) == 0 || !diagReport.AuthSlots[0].Success {
		t.Fatalf("expected the new PICC master key to open slot 0, got %+v", diagReport.AuthSlots)
	}
	for _, slot := range diagReport.AuthSlots[1:] {
		if slot.Success {
			t.Fatalf("the PICC master key must not open slot %d after provisioning", slot.Slot)
		}
	}

	restoreReport, err := toolkit.RestoreFactory(sim, ldgr, provReport.UID)
	if err != nil {
		t.Fatalf("RestoreFactory: %v", err)
	}
	if restoreReport.UID != provReport.UID {
		t.Fatalf("expected restore UID %s, got %s", provReport.UID, restoreReport.UID)
	}

	afterRestore, ok, err := ldgr.Get(provReport.UID)
	if err != nil || !ok {
		t.Fatalf("expected ledger entry to survive restore: ok=%v err=%v", ok, err)
	}
	if afterRestore.Status != "factory-reset" {
		t.Fatalf("expected status 'factory-reset', got %q", afterRestore.Status)
	}

	// The tag should now authenticate with the all-zero factory key again.
	if _, err := ntag424.AuthenticateEV2First(sim, factoryKey, 0x00, ntag424.CryptoRandSource); err != nil {
		t.Fatalf("expected factory key to authenticate after restore: %v", err)
	}
}
