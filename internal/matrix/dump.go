package matrix

import (
	"fmt"
	"io"
)

const screenWidth = 80

// Most terminals wrap at exactly the screen width, so one column is left
// free. Each value takes 5 characters and the row label takes one slot.
var columnsPerBlock = (screenWidth-1)/5 - 1

// WriteTriangle writes the lower triangle of an n-entity table, rows 1..n-1
// and columns 0..row-1, split into blocks of columns that fit a terminal.
func WriteTriangle(w io.Writer, n int, value func(row, col int) int) {
	maxColumns := n - 1
	if maxColumns <= 0 {
		return
	}
	blocks := (maxColumns + columnsPerBlock - 1) / columnsPerBlock

	for block := 0; block < blocks; block++ {
		start := block * columnsPerBlock
		end := min(start+columnsPerBlock, maxColumns)

		fmt.Fprint(w, "\n\n     ")
		for col := start; col < end; col++ {
			fmt.Fprintf(w, "%4d ", col)
		}
		fmt.Fprintln(w)

		for row := 1; row < n; row++ {
			fmt.Fprintf(w, "%4d ", row)
			for col := start; col < min(end, row); col++ {
				fmt.Fprintf(w, "%4d ", value(row, col))
			}
			fmt.Fprintln(w)
		}
	}
}

// Dump writes the matrix scores in the WriteTriangle layout.
func (m *Matrix) Dump(w io.Writer) {
	WriteTriangle(w, m.Size(), m.At)
}
