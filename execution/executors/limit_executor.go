package executors

import (
	"kiln/disk/structures"
	"kiln/execution"
	"kiln/execution/plans"
)

type LimitExecutor struct {
	BaseExecutor
	plan    *plans.LimitPlanNode
	child   IExecutor
	emitted int
}

func NewLimitExecutor(ctx *execution.ExecutorContext, plan *plans.LimitPlanNode, child IExecutor) *LimitExecutor {
	return &LimitExecutor{
		BaseExecutor: BaseExecutor{executorCtx: ctx},
		plan:         plan,
		child:        child,
	}
}

func (e *LimitExecutor) Init() error {
	e.emitted = 0
	return e.child.Init()
}

func (e *LimitExecutor) Next(row *structures.Row, rid *structures.Rid) error {
	if e.emitted >= e.plan.Limit {
		return ErrNoRow{}
	}

	if err := e.child.Next(row, rid); err != nil {
		return err
	}

	e.emitted++
	return nil
}
