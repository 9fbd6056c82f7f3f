// Package ledger implements the CSV-backed per-UID key ledger the core's
// key-ledger interface is defined against. Persistence format is explicitly
// out of the core's scope; this is one adapter satisfying that interface.
package ledger

import (
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
)

// KeySet is the per-UID key material the ledger stores, shaped exactly as
// a provisioned tag's three non-factory key slots: the PICC (application)
// master key, the application read key, and the SDM MAC key.
type KeySet struct {
	PICCMasterKey []byte
	AppReadKey    []byte
	SDMMACKey     []byte
}

// Entry is one row of the ledger.
type Entry struct {
	UIDHex  string
	Keys    KeySet
	Status  string
	Notes   string
}

var header = []string{"uid_hex", "picc_master_key_hex", "app_read_key_hex", "sdm_mac_key_hex", "status", "notes"}

// Ledger is a CSV file of per-UID key sets, safe for use from one flow at
// a time. It reads the whole file on every Get and Store and rewrites the
// whole file on Store, which is adequate for the hundreds-to-low-
// thousands of tags a single operator provisions.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// Open returns a Ledger backed by path. The file need not exist yet; it is
// created on the first Store.
func Open(path string) *Ledger {
	return &Ledger{path: path}
}

// Get looks up uid (case-insensitive hex, with or without separators) and
// returns its key set and status. ok is false if the UID has no entry.
func (l *Ledger) Get(uid string) (Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readAll()
	if err != nil {
		return Entry{}, false, err
	}
	needle := normalizeUID(uid)
	for _, e := range entries {
		if normalizeUID(e.UIDHex) == needle {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Store upserts the key set and status for uid, preserving every other
// row. notes is appended to any existing notes for the UID; status
// replaces the previous value outright.
func (l *Ledger) Store(uid string, keys KeySet, status, notes string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readAll()
	if err != nil {
		return err
	}

	needle := normalizeUID(uid)
	replaced := false
	for i := range entries {
		if normalizeUID(entries[i].UIDHex) == needle {
			entries[i].Keys = keys
			entries[i].Status = status
			if notes != "" {
				if entries[i].Notes != "" {
					entries[i].Notes += "; " + notes
				} else {
					entries[i].Notes = notes
				}
			}
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, Entry{
			UIDHex: strings.ToUpper(uid),
			Keys:   keys,
			Status: status,
			Notes:  notes,
		})
	}

	return l.writeAll(entries)
}

func (l *Ledger) readAll() ([]Entry, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", l.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", l.path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var entries []Entry
	for i, row := range rows {
		if i == 0 && row[0] == header[0] {
			continue // header row
		}
		keys, err := parseKeySet(row[1], row[2], row[3])
		if err != nil {
			return nil, fmt.Errorf("ledger row %d: %w", i, err)
		}
		entries = append(entries, Entry{
			UIDHex: row[0],
			Keys:   keys,
			Status: row[4],
			Notes:  row[5],
		})
	}
	return entries, nil
}

func (l *Ledger) writeAll(entries []Entry) error {
	f, err := os.Create(l.path)
	if err != nil {
		return fmt.Errorf("create ledger %s: %w", l.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			strings.ToUpper(e.UIDHex),
			hex.EncodeToString(e.Keys.PICCMasterKey),
			hex.EncodeToString(e.Keys.AppReadKey),
			hex.EncodeToString(e.Keys.SDMMACKey),
			e.Status,
			e.Notes,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func parseKeySet(piccHex, appReadHex, sdmMacHex string) (KeySet, error) {
	picc, err := hex.DecodeString(piccHex)
	if err != nil {
		return KeySet{}, fmt.Errorf("picc_master_key_hex: %w", err)
	}
	appRead, err := hex.DecodeString(appReadHex)
	if err != nil {
		return KeySet{}, fmt.Errorf("app_read_key_hex: %w", err)
	}
	sdmMac, err := hex.DecodeString(sdmMacHex)
	if err != nil {
		return KeySet{}, fmt.Errorf("sdm_mac_key_hex: %w", err)
	}
	return KeySet{PICCMasterKey: picc, AppReadKey: appRead, SDMMACKey: sdmMac}, nil
}

func normalizeUID(uid string) string {
	uid = strings.ToUpper(uid)
	uid = strings.ReplaceAll(uid, " ", "")
	uid = strings.ReplaceAll(uid, ":", "")
	return uid
}

