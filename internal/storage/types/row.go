package types

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// RowError reports a line that is not a valid CSV row.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// RowReader reads storage rows one physical line at a time. Each line is
// parsed on its own, so an unbalanced quote cannot run into the lines after
// it. Storage rows never span lines: the writer rejects line breaks in
// fields.
type RowReader struct {
	br   *bufio.Reader
	line int
}

// NewRowReader returns a RowReader over r.
func NewRowReader(r io.Reader) *RowReader {
	return &RowReader{br: bufio.NewReaderSize(r, 64*1024)}
}

// Read returns the fields of the next non-empty line. A malformed line
// yields a *RowError and reading may continue. Any other error, including
// io.EOF, ends the stream.
func (r *RowReader) Read() ([]string, error) {
	for {
		raw, err := r.br.ReadBytes('\n')
		if len(raw) == 0 {
			return nil, err
		}
		r.line++

		line := bytes.TrimRight(raw, "\r\n")
		if len(line) == 0 {
			if err != nil {
				return nil, err
			}
			continue
		}

		fields, perr := ParseRow(line)
		if perr != nil {
			return nil, &RowError{Line: r.line, Err: perr}
		}
		return fields, nil
	}
}

// Line returns the line number of the row last returned, starting at 1.
func (r *RowReader) Line() int {
	return r.line
}

// ParseRow parses a single line as one CSV row.
func ParseRow(line []byte) ([]string, error) {
	cr := csv.NewReader(bytes.NewReader(line))
	cr.FieldsPerRecord = -1

	fields, err := cr.Read()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, pe.Err
		}
		return nil, err
	}
	return fields, nil
}
