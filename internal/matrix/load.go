package matrix

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// document is the YAML form of a matrix.
type document struct {
	Scores [][]int `yaml:"scores"`
}

// Load reads a matrix file, choosing the format from its extension.
func Load(path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening matrix: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ReadYAML(f)
	case ".csv", ".txt", "":
		return ReadCSV(f)
	default:
		return nil, fmt.Errorf("unsupported matrix format %q: %w", filepath.Ext(path), ErrParse)
	}
}

// ReadCSV parses one matrix row per line. Rows may be square, lower
// triangular with the diagonal, or strictly lower triangular, in which case
// row 0 is a blank line. Blank lines inside the matrix are empty rows and
// show up as short-row warnings; blank lines at the end are ignored. Trailing
// empty cells are ignored and lines starting with '#' are comments.
func ReadCSV(r io.Reader) (*Matrix, error) {
	var rows [][]int
	blank := 0 // blank lines not yet followed by a data row

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(text, "#") {
			continue
		}
		if text == "" {
			blank++
			continue
		}

		record, err := csv.NewReader(strings.NewReader(text)).Read()
		if err != nil {
			return nil, fmt.Errorf("line %d: %v: %w", line, err, ErrParse)
		}
		for len(record) > 0 && strings.TrimSpace(record[len(record)-1]) == "" {
			record = record[:len(record)-1]
		}

		row := make([]int, len(record))
		for j, cell := range record {
			v, err := strconv.Atoi(strings.TrimSpace(cell))
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %q: %w", line, j+1, cell, ErrParse)
			}
			row[j] = v
		}

		for ; blank > 0; blank-- {
			rows = append(rows, nil)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading csv: %v: %w", err, ErrParse)
	}
	return FromRows(rows), nil
}

// ReadYAML parses a document of the form `scores: [[...], ...]`.
func ReadYAML(r io.Reader) (*Matrix, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return FromRows(nil), nil
		}
		return nil, fmt.Errorf("decoding yaml: %v: %w", err, ErrParse)
	}
	return FromRows(doc.Scores), nil
}

// WriteCSV writes the dense square form, one row per line.
func (m *Matrix) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	for _, row := range m.Dense() {
		record := make([]string, len(row))
		for j, v := range row {
			record[j] = strconv.Itoa(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
