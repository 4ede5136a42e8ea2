package analysis

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/sarchlab/membus/datarecording"
)

// Backend is the interface that provides the service that can record
// performance data entries.
type Backend interface {
	AddDataEntry(entry Entry)
	Flush()
}

// CSVBackend is a Backend that writes data entries to a CSV file.
type CSVBackend struct {
	file      *os.File
	csvWriter *csv.Writer
}

// NewCSVBackend creates the file name.csv and writes the header into it.
func NewCSVBackend(name string) (*CSVBackend, error) {
	file, err := os.Create(name + ".csv")
	if err != nil {
		return nil, fmt.Errorf("creating analysis output: %w", err)
	}

	b := &CSVBackend{
		file:      file,
		csvWriter: csv.NewWriter(file),
	}

	header := []string{
		"Start", "End", "Where", "WhereRemote", "What", "EntryType", "Value",
		"Unit",
	}

	if err := b.csvWriter.Write(header); err != nil {
		file.Close()
		return nil, err
	}

	return b, nil
}

// AddDataEntry adds a data entry to the CSV file.
func (b *CSVBackend) AddDataEntry(entry Entry) {
	err := b.csvWriter.Write([]string{
		strconv.FormatInt(entry.Start, 10),
		strconv.FormatInt(entry.End, 10),
		entry.Where,
		entry.WhereRemote,
		entry.What,
		entry.EntryType,
		strconv.FormatFloat(entry.Value, 'f', -1, 64),
		entry.Unit,
	})
	if err != nil {
		panic(err)
	}
}

// Flush writes the buffered rows into the file.
func (b *CSVBackend) Flush() {
	b.csvWriter.Flush()

	if err := b.csvWriter.Error(); err != nil {
		panic(err)
	}
}

// Close flushes and closes the file.
func (b *CSVBackend) Close() error {
	b.Flush()
	return b.file.Close()
}

// RecorderBackend is a Backend that inserts the entries into a table of a
// data recorder.
type RecorderBackend struct {
	recorder datarecording.DataRecorder
	table    string
}

// NewRecorderBackend creates the table in the recorder.
func NewRecorderBackend(
	recorder datarecording.DataRecorder,
	table string,
) *RecorderBackend {
	recorder.CreateTable(table, Entry{})

	return &RecorderBackend{
		recorder: recorder,
		table:    table,
	}
}

// AddDataEntry inserts the entry.
func (b *RecorderBackend) AddDataEntry(entry Entry) {
	b.recorder.InsertData(b.table, entry)
}

// Flush flushes the recorder.
func (b *RecorderBackend) Flush() {
	b.recorder.Flush()
}
