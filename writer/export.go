package writer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cryptoledger/config"
	"cryptoledger/logger"
)

var ErrIO = errors.New("export i/o failed")

const component = "exporter"

// ExportedFile describes one file produced for a table.
type ExportedFile struct {
	Path    string
	Format  string
	Records int
	Size    int64
}

// FileName is the export file name of a transaction table.
func FileName(table *Table, format string) string {
	return table.Type.String() + "." + format
}

// Export writes table into dir in the given format.
func Export(table *Table, dir, format string) (ExportedFile, error) {
	path := filepath.Join(dir, FileName(table, format))
	start := time.Now()

	var err error
	switch format {
	case config.FormatCSV:
		err = ExportCSV(table, path)
	case config.FormatParquet:
		err = ExportParquet(table, path)
	case config.FormatXLSX:
		err = ExportXLSX(table, path)
	default:
		return ExportedFile{}, fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return ExportedFile{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return ExportedFile{}, fmt.Errorf("%w: stat %s: %v", ErrIO, path, err)
	}

	file := ExportedFile{Path: path, Format: format, Records: table.Len(), Size: info.Size()}
	log := logger.GetLogger().WithComponent(component)
	logger.LogDataFlowEntry(log, table.Type.String(), path, file.Records, format)
	logger.LogPerformanceEntry(log, component, "export_"+format, time.Since(start), logger.Fields{
		"file": path,
		"size": file.Size,
	})
	logger.RecordExport(file.Records, file.Size)
	return file, nil
}

// writeAtomic writes through a temporary file in the target directory and
// renames it into place, so a failed export leaves no partial file behind.
func writeAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrIO, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrIO, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %v", ErrIO, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrIO, tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: rename %s: %v", ErrIO, path, err)
	}
	return nil
}
