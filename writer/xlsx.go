package writer

import (
	"io"

	"github.com/xuri/excelize/v2"
)

const defaultSheet = "Sheet1"

// ExportXLSX writes table to a single-sheet workbook named after the
// transaction type.
func ExportXLSX(table *Table, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := table.Type.String()
	if err := f.SetSheetName(defaultSheet, sheet); err != nil {
		return err
	}

	header := table.Header()
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}
	for i, row := range table.Rows(header) {
		if err := setRow(f, sheet, i+2, row); err != nil {
			return err
		}
	}

	return writeAtomic(path, func(w io.Writer) error {
		return f.Write(w)
	})
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return f.SetSheetRow(sheet, cell, &cells)
}
