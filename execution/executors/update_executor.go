package executors

import (
	"kiln/disk/structures"
	"kiln/execution"
	"kiln/execution/plans"
)

type UpdateExecutor struct {
	BaseExecutor
	plan  *plans.UpdatePlanNode
	child IExecutor
}

func NewUpdateExecutor(ctx *execution.ExecutorContext, plan *plans.UpdatePlanNode, child IExecutor) *UpdateExecutor {
	return &UpdateExecutor{
		BaseExecutor: BaseExecutor{executorCtx: ctx},
		plan:         plan,
		child:        child,
	}
}

func (e *UpdateExecutor) Init() error {
	return e.child.Init()
}

func (e *UpdateExecutor) Next(row *structures.Row, rid *structures.Rid) error {
	if err := e.child.Next(row, rid); err != nil {
		return err
	}

	if err := e.lockExclusive(*rid); err != nil {
		return err
	}

	updated := e.plan.UpdateFn(row.Data)
	if err := e.plan.Heap.UpdateRow(*rid, updated); err != nil {
		return err
	}

	row.Data = updated
	return nil
}
