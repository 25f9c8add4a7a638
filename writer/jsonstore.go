package writer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cryptoledger/models"
)

// StoreEntry is one element of the incremental store: a single-key object
// mapping the record id (as a string) to the id value.
type StoreEntry map[string]any

// Key returns the id the entry was stored under.
func (e StoreEntry) Key() string {
	for k := range e {
		return k
	}
	return ""
}

// StorePath is the store file of a transaction type under dir.
func StorePath(dir string, t models.TransactionType) string {
	return filepath.Join(dir, t.String()+".json")
}

// LoadStore reads the store at path. A missing file is an empty store.
func LoadStore(path string) ([]StoreEntry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []StoreEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read store %s: %v", ErrIO, path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []StoreEntry{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var entries []StoreEntry
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: decode store %s: %v", ErrIO, path, err)
	}
	return entries, nil
}

// SaveStore replaces the store at path in one rename.
func SaveStore(path string, entries []StoreEntry) error {
	if entries == nil {
		entries = []StoreEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("%w: encode store: %v", ErrIO, err)
	}
	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(append(data, '\n'))
		return err
	})
}

// DedupeByID appends an entry for every record whose id is not yet in
// existing and returns the merged store with the number of added entries.
// Existing entries keep their order.
func DedupeByID(existing []StoreEntry, records []models.CanonicalTransaction) ([]StoreEntry, int) {
	seen := make(map[string]struct{}, len(existing)+len(records))
	merged := make([]StoreEntry, 0, len(existing)+len(records))
	for _, e := range existing {
		seen[e.Key()] = struct{}{}
		merged = append(merged, e)
	}

	added := 0
	for _, rec := range records {
		id, ok := rec.Get(models.ColumnID)
		if !ok || id == nil {
			continue
		}
		key := rec.ID()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, StoreEntry{key: id})
		added++
	}
	return merged, added
}
