package writer

import (
	"sort"

	"cryptoledger/models"
)

// Table accumulates normalized records of one transaction type across
// symbols and windows.
type Table struct {
	Type      models.TransactionType
	records   []models.CanonicalTransaction
	finalized bool
}

func NewTable(t models.TransactionType) *Table {
	return &Table{Type: t}
}

// Accumulate appends a batch keeping its order.
func (t *Table) Accumulate(batch []models.CanonicalTransaction) {
	t.records = append(t.records, batch...)
	t.finalized = false
}

// Finalize stable-sorts the records by their readable dt column. The layout
// is zero padded, so string order is chronological order.
func (t *Table) Finalize() {
	sort.SliceStable(t.records, func(i, j int) bool {
		return t.records[i].Datetime() < t.records[j].Datetime()
	})
	t.finalized = true
}

func (t *Table) Finalized() bool { return t.finalized }

func (t *Table) Len() int { return len(t.records) }

func (t *Table) Records() []models.CanonicalTransaction { return t.records }

// Header returns the union of record columns in first-seen order.
func (t *Table) Header() []string {
	seen := make(map[string]struct{})
	var header []string
	for _, rec := range t.records {
		for _, col := range rec.Columns() {
			if _, ok := seen[col]; ok {
				continue
			}
			seen[col] = struct{}{}
			header = append(header, col)
		}
	}
	return header
}

// Rows renders every record against header. Columns a record lacks are empty.
func (t *Table) Rows(header []string) [][]string {
	rows := make([][]string, 0, len(t.records))
	for _, rec := range t.records {
		row := make([]string, len(header))
		for i, col := range header {
			row[i] = rec.Cell(col)
		}
		rows = append(rows, row)
	}
	return rows
}

// Span returns the first and last dt of a finalized table.
func (t *Table) Span() (string, string) {
	if len(t.records) == 0 {
		return "", ""
	}
	return t.records[0].Datetime(), t.records[len(t.records)-1].Datetime()
}
