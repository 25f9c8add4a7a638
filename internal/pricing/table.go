package pricing

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cryptoledger/models"
)

var ErrMissingColumn = errors.New("missing column")

// Row is one exported record keyed by column name.
type Row map[string]string

// Table is an exported CSV loaded back for post-hoc pricing.
type Table struct {
	Header []string
	Rows   []Row
}

// ReadTable loads a CSV export written by the fetch command.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return &Table{}, nil
	}

	table := &Table{Header: records[0], Rows: make([]Row, 0, len(records)-1)}
	for _, rec := range records[1:] {
		row := make(Row, len(table.Header))
		for i, col := range table.Header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// HasColumn reports whether the header carries col.
func (t *Table) HasColumn(col string) bool {
	for _, c := range t.Header {
		if c == col {
			return true
		}
	}
	return false
}

func (t *Table) require(cols ...string) error {
	for _, c := range cols {
		if !t.HasColumn(c) {
			return fmt.Errorf("%w: %s", ErrMissingColumn, c)
		}
	}
	return nil
}

func (t *Table) addColumn(col string) {
	if !t.HasColumn(col) {
		t.Header = append(t.Header, col)
	}
}

// KindFromPath guesses the transaction type of an export from its file name.
func KindFromPath(path string) (models.TransactionType, bool) {
	name := strings.ToLower(filepath.Base(path))
	for _, t := range []models.TransactionType{models.TransactionFiat, models.TransactionConvert} {
		if strings.Contains(name, t.String()) {
			return t, true
		}
	}
	return "", false
}
