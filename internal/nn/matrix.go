package nn

import (
	"errors"
	"fmt"
	"math"
)

// ErrShape is returned when operand dimensions do not line up
var ErrShape = errors.New("shape mismatch")

// Matrix is a dense row-major matrix with explicit dimensions
type Matrix struct {
	Rows int
	Cols int
	Data []float64
}

// NewMatrix allocates a zeroed rows x cols matrix
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// FromRows copies a slice of equal-length rows into a matrix
func FromRows(rows [][]float64) (*Matrix, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrShape)
	}
	cols := len(rows[0])
	if cols == 0 {
		return nil, fmt.Errorf("%w: empty row", ErrShape)
	}
	m := NewMatrix(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShape, i, len(r), cols)
		}
		copy(m.Data[i*cols:(i+1)*cols], r)
	}
	return m, nil
}

// At returns element (i, j)
func (m *Matrix) At(i, j int) float64 { return m.Data[i*m.Cols+j] }

// Set assigns element (i, j)
func (m *Matrix) Set(i, j int, v float64) { m.Data[i*m.Cols+j] = v }

// Row returns a copy of row i
func (m *Matrix) Row(i int) []float64 {
	out := make([]float64, m.Cols)
	copy(out, m.Data[i*m.Cols:(i+1)*m.Cols])
	return out
}

// ToRows copies the matrix into nested slices
func (m *Matrix) ToRows() [][]float64 {
	out := make([][]float64, m.Rows)
	for i := range out {
		out[i] = m.Row(i)
	}
	return out
}

// Clone returns a deep copy
func (m *Matrix) Clone() *Matrix {
	c := &Matrix{Rows: m.Rows, Cols: m.Cols, Data: make([]float64, len(m.Data))}
	copy(c.Data, m.Data)
	return c
}

// Finite reports whether every element is a finite number
func (m *Matrix) Finite() bool {
	return finite(m.Data)
}

// Dot returns a·b
func Dot(a, b *Matrix) (*Matrix, error) {
	if a.Cols != b.Rows {
		return nil, fmt.Errorf("%w: %dx%d · %dx%d", ErrShape, a.Rows, a.Cols, b.Rows, b.Cols)
	}
	out := NewMatrix(a.Rows, b.Cols)
	for i := 0; i < a.Rows; i++ {
		row := out.Data[i*out.Cols : (i+1)*out.Cols]
		for k := 0; k < a.Cols; k++ {
			aik := a.Data[i*a.Cols+k]
			if aik == 0 {
				continue
			}
			bk := b.Data[k*b.Cols : (k+1)*b.Cols]
			for j := range row {
				row[j] += aik * bk[j]
			}
		}
	}
	return out, nil
}

// DotTransA returns aᵀ·b without materializing the transpose
func DotTransA(a, b *Matrix) (*Matrix, error) {
	if a.Rows != b.Rows {
		return nil, fmt.Errorf("%w: (%dx%d)ᵀ · %dx%d", ErrShape, a.Rows, a.Cols, b.Rows, b.Cols)
	}
	out := NewMatrix(a.Cols, b.Cols)
	for r := 0; r < a.Rows; r++ {
		br := b.Data[r*b.Cols : (r+1)*b.Cols]
		for i := 0; i < a.Cols; i++ {
			ari := a.Data[r*a.Cols+i]
			if ari == 0 {
				continue
			}
			row := out.Data[i*out.Cols : (i+1)*out.Cols]
			for j := range row {
				row[j] += ari * br[j]
			}
		}
	}
	return out, nil
}

// DotTransB returns a·bᵀ without materializing the transpose
func DotTransB(a, b *Matrix) (*Matrix, error) {
	if a.Cols != b.Cols {
		return nil, fmt.Errorf("%w: %dx%d · (%dx%d)ᵀ", ErrShape, a.Rows, a.Cols, b.Rows, b.Cols)
	}
	out := NewMatrix(a.Rows, b.Rows)
	for i := 0; i < a.Rows; i++ {
		ai := a.Data[i*a.Cols : (i+1)*a.Cols]
		for j := 0; j < b.Rows; j++ {
			bj := b.Data[j*b.Cols : (j+1)*b.Cols]
			var sum float64
			for k := range ai {
				sum += ai[k] * bj[k]
			}
			out.Data[i*out.Cols+j] = sum
		}
	}
	return out, nil
}

// addRowVector adds v to every row of m in place
func addRowVector(m *Matrix, v []float64) error {
	if len(v) != m.Cols {
		return fmt.Errorf("%w: bias %d vs %d columns", ErrShape, len(v), m.Cols)
	}
	for i := 0; i < m.Rows; i++ {
		row := m.Data[i*m.Cols : (i+1)*m.Cols]
		for j := range row {
			row[j] += v[j]
		}
	}
	return nil
}

func finite(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
