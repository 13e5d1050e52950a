package service

import (
	"encoding/json"
	"sort"
)

// Matrix is a dense row-major float32 matrix.
type Matrix struct {
	Rows int
	Cols int
	Data []float32
}

func NewMatrix(rows, cols int) Matrix {
	return Matrix{Rows: rows, Cols: cols, Data: make([]float32, rows*cols)}
}

func (m Matrix) At(i, j int) float32 { return m.Data[i*m.Cols+j] }

func (m Matrix) Set(i, j int, v float32) { m.Data[i*m.Cols+j] = v }

// Row returns a view of row i.
func (m Matrix) Row(i int) []float32 { return m.Data[i*m.Cols : (i+1)*m.Cols] }

// Col returns a copy of column j.
func (m Matrix) Col(j int) []float32 {
	out := make([]float32, m.Rows)
	for i := range out {
		out[i] = m.Data[i*m.Cols+j]
	}
	return out
}

func (m Matrix) Transpose() Matrix {
	t := NewMatrix(m.Cols, m.Rows)
	for i := 0; i < m.Rows; i++ {
		for j := 0; j < m.Cols; j++ {
			t.Data[j*m.Rows+i] = m.Data[i*m.Cols+j]
		}
	}
	return t
}

// RowSlices returns the matrix as nested slices sharing m's storage.
func (m Matrix) RowSlices() [][]float32 {
	out := make([][]float32, m.Rows)
	for i := range out {
		out[i] = m.Row(i)
	}
	return out
}

// MarshalJSON encodes the matrix as a list of rows.
func (m Matrix) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.RowSlices())
}

// columnOrder is a read plan for a list of requested columns: the columns
// sorted ascending, and for each sorted slot the request position it fills.
type columnOrder struct {
	sorted []int
	pos    []int
}

func newColumnOrder(cols []int) columnOrder {
	pos := make([]int, len(cols))
	for i := range pos {
		pos[i] = i
	}
	sort.SliceStable(pos, func(a, b int) bool { return cols[pos[a]] < cols[pos[b]] })
	sorted := make([]int, len(cols))
	for k, p := range pos {
		sorted[k] = cols[p]
	}
	return columnOrder{sorted: sorted, pos: pos}
}

// restoreRows reorders a [rows, len(cols)] block read in sorted column
// order into a [len(cols), rows] matrix in request order.
func (o columnOrder) restoreRows(block []float32, rows int) Matrix {
	k := len(o.pos)
	out := NewMatrix(k, rows)
	for r := 0; r < rows; r++ {
		for slot, p := range o.pos {
			out.Data[p*rows+r] = block[r*k+slot]
		}
	}
	return out
}

// restoreRow reorders one row read in sorted column order.
func (o columnOrder) restoreRow(row []float32) []float32 {
	out := make([]float32, len(row))
	for slot, p := range o.pos {
		out[p] = row[slot]
	}
	return out
}
