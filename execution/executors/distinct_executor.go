package executors

import (
	"errors"

	"kiln/disk/structures"
	"kiln/execution"
	"kiln/execution/plans"
)

// DistinctExecutor materializes its child during Init, keeping the first row per key.
type DistinctExecutor struct {
	BaseExecutor
	plan    *plans.DistinctPlanNode
	child   IExecutor
	rows    []*structures.Row
	emitted int
}

func NewDistinctExecutor(ctx *execution.ExecutorContext, plan *plans.DistinctPlanNode, child IExecutor) *DistinctExecutor {
	return &DistinctExecutor{
		BaseExecutor: BaseExecutor{executorCtx: ctx},
		plan:         plan,
		child:        child,
	}
}

func (e *DistinctExecutor) Init() error {
	if err := e.child.Init(); err != nil {
		return err
	}

	e.rows = nil
	e.emitted = 0
	seen := map[string]struct{}{}

	for {
		var row structures.Row
		var rid structures.Rid
		err := e.child.Next(&row, &rid)
		if errors.Is(err, ErrNoRow{}) {
			return nil
		}
		if err != nil {
			return err
		}

		key := row.Data
		if e.plan.Key != nil {
			key = e.plan.Key(&row)
		}

		if _, ok := seen[string(key)]; ok {
			continue
		}
		seen[string(key)] = struct{}{}

		kept := row
		e.rows = append(e.rows, &kept)
	}
}

func (e *DistinctExecutor) Next(row *structures.Row, rid *structures.Rid) error {
	if e.emitted == len(e.rows) {
		return ErrNoRow{}
	}

	*row = *e.rows[e.emitted]
	*rid = row.Rid
	e.emitted++
	return nil
}
