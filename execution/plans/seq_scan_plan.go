package plans

import (
	"kiln/disk/structures"
)

// SeqScanPlanNode scans a heap front to back, yielding rows that pass the predicate. A nil
// predicate passes everything.
type SeqScanPlanNode struct {
	Heap      *structures.TableHeap
	Predicate func(*structures.Row) bool
}

func (n *SeqScanPlanNode) GetType() PlanType {
	return SeqScan
}
