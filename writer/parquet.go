package writer

import (
	"bytes"
	"fmt"
	"io"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// memFileWriter is an in-memory source.ParquetFile.
type memFileWriter struct {
	buffer *bytes.Buffer
}

func newMemFileWriter() *memFileWriter { return &memFileWriter{buffer: &bytes.Buffer{}} }

func (m *memFileWriter) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFileWriter) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFileWriter) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFileWriter) Read([]byte) (int, error)                  { return 0, io.EOF }
func (m *memFileWriter) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFileWriter) Close() error                              { return nil }
func (m *memFileWriter) Bytes() []byte                             { return m.buffer.Bytes() }

// parquetSchema declares every column as an optional UTF8 string. Empty
// cells are written as nulls.
func parquetSchema(header []string) []string {
	md := make([]string, 0, len(header))
	for _, col := range header {
		md = append(md, fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", col))
	}
	return md
}

func createParquet(table *Table) ([]byte, error) {
	header := table.Header()
	mw := newMemFileWriter()
	pw, err := writer.NewCSVWriter(parquetSchema(header), mw, 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range table.Rows(header) {
		rec := make([]*string, len(row))
		for i := range row {
			if row[i] != "" {
				rec[i] = &row[i]
			}
		}
		if err := pw.WriteString(rec); err != nil {
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return mw.Bytes(), nil
}

// ExportParquet writes table to path as a SNAPPY compressed Parquet file.
func ExportParquet(table *Table, path string) error {
	if len(table.Header()) == 0 {
		return fmt.Errorf("%w: parquet export of %s needs at least one record", ErrIO, table.Type)
	}
	data, err := createParquet(table)
	if err != nil {
		return fmt.Errorf("%w: encode parquet: %v", ErrIO, err)
	}
	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
