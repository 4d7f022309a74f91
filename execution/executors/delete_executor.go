package executors

import (
	"kiln/disk/structures"
	"kiln/execution"
	"kiln/execution/plans"
)

type DeleteExecutor struct {
	BaseExecutor
	plan  *plans.DeletePlanNode
	child IExecutor
}

func NewDeleteExecutor(ctx *execution.ExecutorContext, plan *plans.DeletePlanNode, child IExecutor) *DeleteExecutor {
	return &DeleteExecutor{
		BaseExecutor: BaseExecutor{executorCtx: ctx},
		plan:         plan,
		child:        child,
	}
}

func (e *DeleteExecutor) Init() error {
	return e.child.Init()
}

func (e *DeleteExecutor) Next(row *structures.Row, rid *structures.Rid) error {
	if err := e.child.Next(row, rid); err != nil {
		return err
	}

	if err := e.lockExclusive(*rid); err != nil {
		return err
	}

	return e.plan.Heap.DeleteRow(*rid)
}
