package plans

import (
	"kiln/disk/structures"
)

// InsertPlanNode appends the raw rows to the heap.
type InsertPlanNode struct {
	Heap    *structures.TableHeap
	RawRows [][]byte
}

func (n *InsertPlanNode) GetType() PlanType {
	return Insert
}

// UpdatePlanNode rewrites every row its child yields with UpdateFn.
type UpdatePlanNode struct {
	Heap     *structures.TableHeap
	UpdateFn func(old []byte) []byte
}

func (n *UpdatePlanNode) GetType() PlanType {
	return Update
}

// DeletePlanNode removes every row its child yields.
type DeletePlanNode struct {
	Heap *structures.TableHeap
}

func (n *DeletePlanNode) GetType() PlanType {
	return Delete
}
