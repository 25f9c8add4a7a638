package writer

import (
	"encoding/csv"
	"io"
)

// ExportCSV writes table to path with a header row of the union of record
// columns. The file only appears once it is completely written.
func ExportCSV(table *Table, path string) error {
	header := table.Header()
	rows := table.Rows(header)

	return writeAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
		return cw.Error()
	})
}
