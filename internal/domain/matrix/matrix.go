// Package matrix builds the sparse user×item interaction matrix consumed by
// neighbourhood models.
package matrix

import (
	"slices"

	"github.com/okian/receval/internal/domain/model"
)

// Matrix is a compressed sparse row matrix. Row r holds the columns
// Indices[IndPtr[r]:IndPtr[r+1]] in ascending order with matching Data.
type Matrix struct {
	NRows   int
	NCols   int
	IndPtr  []int
	Indices []int
	Data    []float64

	// UserIndex maps a user to its row.
	UserIndex map[model.UserID]int
	// ItemIndex maps an item to its column.
	ItemIndex map[model.ItemID]int
}

// NNZ returns the number of stored entries.
func (m *Matrix) NNZ() int { return len(m.Data) }

// At returns the value at (row, col), zero if it is not stored.
func (m *Matrix) At(row, col int) float64 {
	if row < 0 || row >= m.NRows {
		return 0
	}
	cols := m.Indices[m.IndPtr[row]:m.IndPtr[row+1]]
	if i, ok := slices.BinarySearch(cols, col); ok {
		return m.Data[m.IndPtr[row]+i]
	}
	return 0
}

// Row returns the stored columns and values of row r, or nil for a row
// outside the matrix.
func (m *Matrix) Row(r int) ([]int, []float64) {
	if r < 0 || r >= m.NRows {
		return nil, nil
	}
	lo, hi := m.IndPtr[r], m.IndPtr[r+1]
	return m.Indices[lo:hi], m.Data[lo:hi]
}

// Users returns the users in row order.
func (m *Matrix) Users() []model.UserID {
	out := make([]model.UserID, len(m.UserIndex))
	for u, i := range m.UserIndex {
		out[i] = u
	}
	return out
}

// Items returns the items in column order.
func (m *Matrix) Items() []model.ItemID {
	out := make([]model.ItemID, len(m.ItemIndex))
	for it, i := range m.ItemIndex {
		out[i] = it
	}
	return out
}

type cell struct {
	row, col int
}

// Build keeps interactions whose rating is strictly above threshold and
// indexes users and items in order of first appearance. Each kept interaction
// contributes 1; repeated (user, item) pairs are summed.
func Build(t model.Table, threshold float64) (*Matrix, error) {
	required := []model.Column{
		{Name: model.ColumnUser, Field: model.FieldUser},
		{Name: model.ColumnItem, Field: model.FieldItem},
		{Name: model.ColumnRating, Field: model.FieldRating},
	}
	for _, c := range required {
		if !t.Schema.Has(c.Field) {
			return nil, &model.SchemaError{Column: c.Name, Reason: "column required to build the interaction matrix"}
		}
	}

	m := &Matrix{
		UserIndex: make(map[model.UserID]int),
		ItemIndex: make(map[model.ItemID]int),
	}
	counts := make(map[cell]float64)
	for _, r := range t.Rows {
		if r.Rating <= threshold {
			continue
		}
		u, ok := m.UserIndex[r.UserID]
		if !ok {
			u = len(m.UserIndex)
			m.UserIndex[r.UserID] = u
		}
		i, ok := m.ItemIndex[r.ItemID]
		if !ok {
			i = len(m.ItemIndex)
			m.ItemIndex[r.ItemID] = i
		}
		counts[cell{u, i}]++
	}
	m.NRows, m.NCols = len(m.UserIndex), len(m.ItemIndex)

	cells := make([]cell, 0, len(counts))
	for c := range counts {
		cells = append(cells, c)
	}
	slices.SortFunc(cells, func(a, b cell) int {
		if a.row != b.row {
			return a.row - b.row
		}
		return a.col - b.col
	})

	m.IndPtr = make([]int, m.NRows+1)
	m.Indices = make([]int, len(cells))
	m.Data = make([]float64, len(cells))
	for n, c := range cells {
		m.IndPtr[c.row+1]++
		m.Indices[n] = c.col
		m.Data[n] = counts[c]
	}
	for r := range m.NRows {
		m.IndPtr[r+1] += m.IndPtr[r]
	}
	return m, nil
}
