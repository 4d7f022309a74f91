package executors

import (
	"kiln/disk/structures"
	"kiln/execution"
	"kiln/execution/plans"
)

type SeqScanExecutor struct {
	BaseExecutor
	plan      *plans.SeqScanPlanNode
	tableIter *structures.TableIterator
}

func NewSeqScanExecutor(ctx *execution.ExecutorContext, plan *plans.SeqScanPlanNode) *SeqScanExecutor {
	return &SeqScanExecutor{
		BaseExecutor: BaseExecutor{executorCtx: ctx},
		plan:         plan,
	}
}

func (e *SeqScanExecutor) Init() error {
	e.tableIter = structures.NewTableIterator(e.plan.Heap)
	return nil
}

func (e *SeqScanExecutor) Next(row *structures.Row, rid *structures.Rid) error {
	for {
		next := e.tableIter.Next()
		if next == nil {
			return ErrNoRow{}
		}

		if err := e.lockShared(next.Rid); err != nil {
			return err
		}

		if e.plan.Predicate != nil && !e.plan.Predicate(next) {
			continue
		}

		*row = *next
		*rid = next.Rid
		return nil
	}
}
