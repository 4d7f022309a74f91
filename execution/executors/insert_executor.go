package executors

import (
	"kiln/disk/structures"
	"kiln/execution"
	"kiln/execution/plans"
)

type InsertExecutor struct {
	BaseExecutor
	plan         *plans.InsertPlanNode
	lastInserted int
}

func NewInsertExecutor(ctx *execution.ExecutorContext, plan *plans.InsertPlanNode) *InsertExecutor {
	return &InsertExecutor{
		BaseExecutor: BaseExecutor{executorCtx: ctx},
		plan:         plan,
		lastInserted: -1,
	}
}

func (e *InsertExecutor) Init() error {
	e.lastInserted = -1
	return nil
}

func (e *InsertExecutor) Next(row *structures.Row, rid *structures.Rid) error {
	e.lastInserted++
	if e.lastInserted == len(e.plan.RawRows) {
		return ErrNoRow{}
	}

	data := e.plan.RawRows[e.lastInserted]
	insertedRid, err := e.plan.Heap.InsertRow(data)
	if err != nil {
		return err
	}

	if err := e.lockExclusive(insertedRid); err != nil {
		return err
	}

	row.Data = data
	row.Rid = insertedRid
	*rid = insertedRid
	return nil
}
