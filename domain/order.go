package domain

import (
	"fmt"
	"slices"
)

// columnIndexes returns the indexes into s.tasks of every task in columnID,
// ordered by position. Ties keep collection order.
func (s *Session) columnIndexes(columnID string) []int {
	idx := make([]int, 0, len(s.tasks))
	for i := range s.tasks {
		if s.tasks[i].ColumnID == columnID {
			idx = append(idx, i)
		}
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return s.tasks[a].Position - s.tasks[b].Position
	})
	return idx
}

// renumber assigns position = rank to every task listed in order.
func (s *Session) renumber(order []int) {
	for pos, i := range order {
		s.tasks[i].Position = pos
	}
}

func (s *Session) compact(columnID string) {
	s.renumber(s.columnIndexes(columnID))
}

// moveElement relocates the element at from to index to, shifting the
// elements in between by one. It does not swap.
func moveElement(order []int, from, to int) []int {
	if from == to {
		return order
	}
	v := order[from]
	out := make([]int, 0, len(order))
	out = append(out, order[:from]...)
	out = append(out, order[from+1:]...)
	return slices.Insert(out, to, v)
}

// CheckPositions verifies that the positions of every column form the
// sequence 0..n-1 without gaps or duplicates.
func CheckPositions(tasks []Task) error {
	byColumn := make(map[string][]int)
	for _, t := range tasks {
		byColumn[t.ColumnID] = append(byColumn[t.ColumnID], t.Position)
	}
	for columnID, positions := range byColumn {
		seen := make([]bool, len(positions))
		for _, p := range positions {
			if p < 0 || p >= len(positions) || seen[p] {
				return fmt.Errorf("%w: column %s has positions %v", ErrPositionsCorrupt, columnID, positions)
			}
			seen[p] = true
		}
	}
	return nil
}
