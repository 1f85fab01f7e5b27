package output

import (
	"github.com/xuri/excelize/v2"

	"github.com/bc-dunia/casgen/internal/types"
)

// xlsxWriter streams rows into an excelize workbook using the same
// column projection as the CSV writer. The workbook container is
// written to the sink in one pass at Close (the xlsx zip format cannot
// be emitted incrementally), so the flush interval only bounds the
// stream-writer's row buffer.
type xlsxWriter struct {
	sink *sink
	file *excelize.File
	sw   *excelize.StreamWriter
	opts Options
	path string
	row  int
}

func newXLSXWriter(path string, opts Options) (*xlsxWriter, error) {
	s, err := newSink(path, opts.Compression, opts.EncryptionKey)
	if err != nil {
		return nil, err
	}
	f := excelize.NewFile()
	sw, err := f.NewStreamWriter("Sheet1")
	if err != nil {
		s.Abort()
		f.Close()
		return nil, serializationErr("open stream writer", err)
	}

	header := make([]interface{}, len(tabularHeader))
	for i, col := range tabularHeader {
		header[i] = col
	}
	if err := sw.SetRow("A1", header); err != nil {
		s.Abort()
		f.Close()
		return nil, serializationErr("write header", err)
	}

	return &xlsxWriter{sink: s, file: f, sw: sw, opts: opts, path: path, row: 1}, nil
}

func (w *xlsxWriter) Append(p *types.Patient) error {
	w.row++
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return serializationErr("cell name", err)
	}
	fields := tabularRow(p)
	values := make([]interface{}, len(fields))
	for i, v := range fields {
		values[i] = v
	}
	if err := w.sw.SetRow(cell, values); err != nil {
		return serializationErr("write row", err)
	}
	return nil
}

func (w *xlsxWriter) Close() (*Result, error) {
	if err := w.sw.Flush(); err != nil {
		w.abortFile()
		return nil, serializationErr("flush sheet", err)
	}
	if err := w.file.Write(w.sink); err != nil {
		w.abortFile()
		return nil, serializationErr("write workbook", err)
	}
	w.file.Close()
	if err := w.sink.Flush(); err != nil {
		w.sink.Abort()
		return nil, err
	}
	size, err := w.sink.Close()
	if err != nil {
		return nil, err
	}
	return makeResult(w.path, w.opts, size), nil
}

func (w *xlsxWriter) Abort() {
	w.abortFile()
}

func (w *xlsxWriter) abortFile() {
	w.file.Close()
	w.sink.Abort()
}
