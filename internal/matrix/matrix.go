// Package matrix holds pairwise dissimilarity scores between entities.
//
// Scores are symmetric, so only the lower triangle is stored: row i holds the
// scores against columns 0..i-1 and the diagonal is never stored. The shape is
// checked once, when the matrix is built, and any irregularity found there is
// kept as a warning rather than rejected.
package matrix

import (
	"errors"
	"fmt"
)

// NoLink marks a pair whose score was filtered out as too large to matter.
const NoLink = -1

var (
	ErrShortRow   = errors.New("row has fewer columns than its index")
	ErrAsymmetric = errors.New("score differs from its mirrored entry")
	ErrParse      = errors.New("malformed matrix input")
)

// Matrix is a lower-triangular dissimilarity matrix over entities 0..Size()-1.
// A row may be shorter than its index when the producer omitted entries; the
// pairs beyond its end are missing and read as zero.
type Matrix struct {
	rows     [][]int
	warnings []error
}

// New returns a complete zero-filled matrix for n entities.
func New(n int) *Matrix {
	if n < 0 {
		n = 0
	}
	rows := make([][]int, n)
	for i := range rows {
		rows[i] = make([]int, i)
	}
	return &Matrix{rows: rows}
}

// FromRows builds a matrix from square, lower-triangular or ragged rows. Only
// the lower triangle is read. Short rows and mirrored entries that disagree
// are recorded as warnings.
func FromRows(rows [][]int) *Matrix {
	m := &Matrix{rows: make([][]int, len(rows))}
	for i, row := range rows {
		width := min(len(row), i)
		m.rows[i] = append([]int(nil), row[:width]...)
		if width < i {
			m.warnings = append(m.warnings, fmt.Errorf("row %d: %d of %d columns: %w", i, width, i, ErrShortRow))
		}
	}

	// Rows carrying an upper triangle must agree with the lower one.
	for i, row := range rows {
		for j := i + 1; j < len(row) && j < len(rows); j++ {
			if i < len(m.rows[j]) && m.rows[j][i] != row[j] {
				m.warnings = append(m.warnings, fmt.Errorf("pair (%d,%d): %d vs %d: %w", i, j, row[j], m.rows[j][i], ErrAsymmetric))
			}
		}
	}
	return m
}

// Size returns the number of entities.
func (m *Matrix) Size() int {
	return len(m.rows)
}

// Warnings returns the shape problems found while building the matrix.
func (m *Matrix) Warnings() []error {
	return m.warnings
}

// Complete reports whether every lower-triangle entry is present.
func (m *Matrix) Complete() bool {
	for i, row := range m.rows {
		if len(row) < i {
			return false
		}
	}
	return true
}

// Row returns the stored lower-triangle scores of entity i. The slice is
// owned by the matrix and must not be modified.
func (m *Matrix) Row(i int) []int {
	if i < 0 || i >= len(m.rows) {
		return nil
	}
	return m.rows[i]
}

// Has reports whether a score is stored for the pair.
func (m *Matrix) Has(i, j int) bool {
	if i < j {
		i, j = j, i
	}
	return i != j && j >= 0 && i < len(m.rows) && j < len(m.rows[i])
}

// At returns the score for the pair, or 0 for the diagonal and missing pairs.
func (m *Matrix) At(i, j int) int {
	if !m.Has(i, j) {
		return 0
	}
	if i < j {
		i, j = j, i
	}
	return m.rows[i][j]
}

// Set stores the score for the pair. Rows that were short are extended with
// zeros up to the column being set.
func (m *Matrix) Set(i, j, v int) {
	if i < j {
		i, j = j, i
	}
	if i == j || j < 0 || i >= len(m.rows) {
		panic(fmt.Sprintf("matrix: invalid pair (%d,%d) for size %d", i, j, len(m.rows)))
	}
	for len(m.rows[i]) <= j {
		m.rows[i] = append(m.rows[i], 0)
	}
	m.rows[i][j] = v
}

// Dense returns the full symmetric N×N form with a zero diagonal.
func (m *Matrix) Dense() [][]int {
	n := len(m.rows)
	dense := make([][]int, n)
	for i := range dense {
		dense[i] = make([]int, n)
	}
	for i, row := range m.rows {
		for j, v := range row {
			dense[i][j] = v
			dense[j][i] = v
		}
	}
	return dense
}

// FilterLargeMismatch returns a copy of a dense matrix in which every score
// above limit is replaced by NoLink.
func FilterLargeMismatch(dense [][]int, limit int) [][]int {
	out := make([][]int, len(dense))
	for i, row := range dense {
		out[i] = make([]int, len(row))
		for j, v := range row {
			if v > limit {
				v = NoLink
			}
			out[i][j] = v
		}
	}
	return out
}
