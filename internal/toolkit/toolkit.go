// Package toolkit implements the three coarse tool-facing operations a
// provisioning workflow composes from the ntag424 protocol engine: reading
// a tag's current configuration without committing to anything
// (Diagnose), turning a factory-fresh tag into a configured SDM tag
// (Provision), and reversing that back to factory defaults
// (RestoreFactory).
package toolkit

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/barnettlynn/ntag424sdm/internal/ledger"
	"github.com/barnettlynn/ntag424sdm/pkg/ntag424"
)

const (
	ndefFileNo    byte = 0x01
	counterFileNo byte = 0x02
	authKeyNo     byte = 0x00
	sdmMacKeyNo   byte = 0x01
	appReadKeyNo  byte = 0x02
)

// FileReport is one file's settings, captured during a diagnose pass.
// Counter is only populated when an authenticated session was available
// and GetFileCounters succeeded for the file; GetFileCounters always runs
// under CommMode=MAC regardless of the file's own CommMode.
type FileReport struct {
	FileNo   byte
	Settings *ntag424.FileSettings
	Counter  *uint32
	Err      error
}

// DiagnoseReport summarizes a tag's current state without modifying it.
type DiagnoseReport struct {
	UID       string
	Version   *ntag424.TagVersion
	AuthSlots []ntag424.AuthSlotResult
	Files     []FileReport
}

// Diagnose selects the NDEF application, reads the version info, and
// enumerates files 1-3's settings, tolerating per-file read failures
// (e.g. access rights that require a key the caller doesn't have) so the
// report always reflects what could be learned rather than aborting on
// the first permission error.
//
// When key is a 16-byte candidate (typically the factory default or the
// ledger's PICC master), every key slot is probed with it and the per-slot
// outcome recorded; the first slot it opens is then re-authenticated so
// per-file read counters can be fetched too (GetFileCounters always
// requires an authenticated MAC session regardless of the file's own
// CommMode). Pass nil to keep the diagnosis fully unauthenticated.
func Diagnose(card ntag424.Card, key []byte) (*DiagnoseReport, error) {
	if err := ntag424.SelectNDEFApp(card); err != nil {
		return nil, fmt.Errorf("select NDEF app: %w", err)
	}

	uid, err := ntag424.GetUID(card)
	if err != nil {
		return nil, fmt.Errorf("get UID: %w", err)
	}

	version, err := ntag424.GetVersion(card)
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}

	report := &DiagnoseReport{
		UID:     strings.ToUpper(hex.EncodeToString(uid)),
		Version: version,
	}

	var sess *ntag424.Session
	if len(key) == 16 {
		report.AuthSlots = ntag424.DiagnoseAuthSlots(card, key, []byte{0, 1, 2, 3, 4})
		for _, r := range report.AuthSlots {
			if !r.Success {
				continue
			}
			// The probe discarded its session; reopen the first working slot.
			sess, _ = ntag424.AuthenticateEV2First(card, key, r.Slot, nil)
			break
		}
	}

	for fileNo := byte(1); fileNo <= 3; fileNo++ {
		fr := FileReport{FileNo: fileNo}
		settings, err := ntag424.GetFileSettingsPlain(card, fileNo)
		if err != nil {
			fr.Err = err
			report.Files = append(report.Files, fr)
			continue
		}
		fr.Settings = settings

		if sess != nil && sess.Valid() {
			if ctr, err := ntag424.GetFileCounters(card, sess, fileNo); err == nil {
				fr.Counter = &ctr
			}
		}
		report.Files = append(report.Files, fr)
	}

	return report, nil
}

// ProvisionReport records the outcome of provisioning one tag: the keys
// it now holds and the URL it will emit on tap.
type ProvisionReport struct {
	UID           string
	PICCMasterKey []byte
	AppReadKey    []byte
	SDMMACKey     []byte
	Plan          *ntag424.SDMPlan
}

// Provision authenticates against a factory-default tag (all-zero key,
// slot 0), derives three fresh per-tag keys, installs them, writes an SDM
// NDEF record built from tmpl, locks file 2 down to the new keys, and
// records the tag's new key set in the ledger.
//
// Keys are changed read key (slot 2) first, then SDM MAC key (slot 1),
// then the PICC/application master key (slot 0) last — changing the
// currently authenticated key invalidates the session, so every other
// ChangeKey must complete first.
func Provision(card ntag424.Card, ldgr *ledger.Ledger, factoryKey []byte, tmpl ntag424.SDMUrlTemplate) (*ProvisionReport, error) {
	if err := ntag424.SelectNDEFApp(card); err != nil {
		return nil, fmt.Errorf("select NDEF app: %w", err)
	}
	uid, err := ntag424.GetUID(card)
	if err != nil {
		return nil, fmt.Errorf("get UID: %w", err)
	}
	uidHex := strings.ToUpper(hex.EncodeToString(uid))

	sess, err := ntag424.AuthenticateEV2First(card, factoryKey, authKeyNo, ntag424.CryptoRandSource)
	if err != nil {
		return nil, fmt.Errorf("authenticate with factory key: %w", err)
	}

	appReadKey, err := randomKey()
	if err != nil {
		return nil, err
	}
	sdmMacKey, err := randomKey()
	if err != nil {
		return nil, err
	}
	piccMasterKey, err := randomKey()
	if err != nil {
		return nil, err
	}

	if err := ntag424.ChangeKey(card, sess, appReadKeyNo, appReadKey, factoryKey, 0x01, authKeyNo); err != nil {
		return nil, fmt.Errorf("change read key (slot %d): %w", appReadKeyNo, err)
	}
	if err := ntag424.ChangeKey(card, sess, sdmMacKeyNo, sdmMacKey, factoryKey, 0x01, authKeyNo); err != nil {
		return nil, fmt.Errorf("change SDM MAC key (slot %d): %w", sdmMacKeyNo, err)
	}
	if err := ntag424.ChangeKeySame(card, sess, authKeyNo, piccMasterKey, 0x01); err != nil {
		return nil, fmt.Errorf("change PICC master key (slot %d): %w", authKeyNo, err)
	}

	// The session died with the authenticated key; re-establish it with
	// the new master key before configuring the file.
	if err := ntag424.SelectNDEFApp(card); err != nil {
		return nil, fmt.Errorf("re-select NDEF app: %w", err)
	}
	sess, err = ntag424.AuthenticateEV2First(card, piccMasterKey, authKeyNo, ntag424.CryptoRandSource)
	if err != nil {
		return nil, fmt.Errorf("re-authenticate with new master key: %w", err)
	}

	plan, err := ntag424.PlanSDM(tmpl)
	if err != nil {
		return nil, fmt.Errorf("plan SDM layout: %w", err)
	}

	// Temporarily free file 2's write access so the plain NDEF write
	// below doesn't need secure messaging for the bulk payload.
	if err := ntag424.ChangeFileSettingsBasic(card, sess, counterFileNo, 0x00, 0x00, 0xEE); err != nil {
		return nil, fmt.Errorf("free file %d write access: %w", counterFileNo, err)
	}
	if err := ntag424.WriteNDEFPlain(card, plan.NDEF); err != nil {
		return nil, fmt.Errorf("write SDM NDEF: %w", err)
	}

	if err := ntag424.SelectNDEFApp(card); err != nil {
		return nil, fmt.Errorf("re-select NDEF app after NDEF write: %w", err)
	}
	sess, err = ntag424.AuthenticateEV2First(card, piccMasterKey, authKeyNo, ntag424.CryptoRandSource)
	if err != nil {
		return nil, fmt.Errorf("re-authenticate before locking file settings: %w", err)
	}

	ar1, ar2 := ntag424.AccessRights{
		Read:      ntag424.AccessFree,
		Write:     appReadKeyNo,
		ReadWrite: appReadKeyNo,
		Change:    authKeyNo,
	}.Encode()
	sdmMeta := ntag424.AccessFree // plain meta so UID/ctr mirrors are readable unauthenticated
	if err := plan.ApplySDM(card, sess, counterFileNo, 0x00, ar1, ar2, sdmMeta, sdmMacKeyNo, sdmMacKeyNo); err != nil {
		return nil, fmt.Errorf("apply SDM file settings: %w", err)
	}

	if ldgr != nil {
		keys := ledger.KeySet{PICCMasterKey: piccMasterKey, AppReadKey: appReadKey, SDMMACKey: sdmMacKey}
		if err := ldgr.Store(uidHex, keys, "provisioned", ""); err != nil {
			return nil, fmt.Errorf("store ledger entry: %w", err)
		}
	}

	return &ProvisionReport{
		UID:           uidHex,
		PICCMasterKey: piccMasterKey,
		AppReadKey:    appReadKey,
		SDMMACKey:     sdmMacKey,
		Plan:          plan,
	}, nil
}

// RestoreReport records a factory-reset outcome.
type RestoreReport struct {
	UID string
}

// RestoreFactory authenticates with the ledger's recorded PICC master key
// for uid, resets every non-factory key slot back to all-zero (PICC
// master last, since it's the currently authenticated key), reverts file 2
// to plain comm mode with factory access rights, and clears the NDEF
// payload.
func RestoreFactory(card ntag424.Card, ldgr *ledger.Ledger, uid string) (*RestoreReport, error) {
	entry, ok, err := ldgr.Get(uid)
	if err != nil {
		return nil, fmt.Errorf("look up ledger entry: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("no ledger entry for UID %s", uid)
	}

	if err := ntag424.SelectNDEFApp(card); err != nil {
		return nil, fmt.Errorf("select NDEF app: %w", err)
	}
	sess, authKey, _, err := ntag424.AuthenticateWithFallback(card, entry.Keys.PICCMasterKey, authKeyNo, authKeyNo, ntag424.CryptoRandSource)
	if err != nil {
		return nil, fmt.Errorf("authenticate with ledger PICC master key: %w", err)
	}
	zeroKey := make([]byte, 16)
	provisioned := !bytes.Equal(authKey, zeroKey)

	// Free file 2's write access before clearing it, matching the access
	// path used when it was first provisioned.
	if err := ntag424.ChangeFileSettingsBasic(card, sess, counterFileNo, 0x00, 0x00, 0xEE); err != nil {
		return nil, fmt.Errorf("free file %d write access: %w", counterFileNo, err)
	}
	if err := ntag424.WriteNDEFPlain(card, []byte{0x00, 0x00}); err != nil {
		return nil, fmt.Errorf("clear NDEF: %w", err)
	}

	if err := ntag424.SelectNDEFApp(card); err != nil {
		return nil, fmt.Errorf("re-select NDEF app after clearing NDEF: %w", err)
	}
	sess, err = ntag424.AuthenticateEV2First(card, authKey, authKeyNo, ntag424.CryptoRandSource)
	if err != nil {
		return nil, fmt.Errorf("re-authenticate after clearing NDEF: %w", err)
	}

	if provisioned {
		if err := ntag424.ChangeKey(card, sess, appReadKeyNo, zeroKey, entry.Keys.AppReadKey, 0x00, authKeyNo); err != nil {
			return nil, fmt.Errorf("reset read key (slot %d): %w", appReadKeyNo, err)
		}
		if err := ntag424.ChangeKey(card, sess, sdmMacKeyNo, zeroKey, entry.Keys.SDMMACKey, 0x00, authKeyNo); err != nil {
			return nil, fmt.Errorf("reset SDM MAC key (slot %d): %w", sdmMacKeyNo, err)
		}
		if err := ntag424.ChangeKeySame(card, sess, authKeyNo, zeroKey, 0x00); err != nil {
			return nil, fmt.Errorf("reset PICC master key (slot %d): %w", authKeyNo, err)
		}
		if err := ntag424.SelectNDEFApp(card); err != nil {
			return nil, fmt.Errorf("re-select NDEF app after key reset: %w", err)
		}
		sess, err = ntag424.AuthenticateEV2First(card, zeroKey, authKeyNo, ntag424.CryptoRandSource)
		if err != nil {
			return nil, fmt.Errorf("re-authenticate with factory zero key: %w", err)
		}
	}

	// Restore factory access rights: file 1 (CC) and file 2 (NDEF) both
	// Read=free, Write/RW/CAR=slot 0, comm mode plain.
	if err := ntag424.ChangeFileSettingsBasic(card, sess, ndefFileNo, 0x00, 0x00, 0xE0); err != nil {
		return nil, fmt.Errorf("restore file %d settings: %w", ndefFileNo, err)
	}
	if err := ntag424.ChangeFileSettingsBasic(card, sess, counterFileNo, 0x00, 0x00, 0xE0); err != nil {
		return nil, fmt.Errorf("restore file %d settings: %w", counterFileNo, err)
	}

	if err := ldgr.Store(uid, ledger.KeySet{PICCMasterKey: zeroKey, AppReadKey: zeroKey, SDMMACKey: zeroKey}, "factory-reset", ""); err != nil {
		return nil, fmt.Errorf("update ledger entry: %w", err)
	}

	return &RestoreReport{UID: strings.ToUpper(uid)}, nil
}

func randomKey() ([]byte, error) {
	key := make([]byte, 16)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}
