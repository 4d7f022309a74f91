package executors

import (
	"errors"

	"kiln/disk/structures"
	"kiln/execution"
	"kiln/execution/plans"
)

// HashJoinExecutor builds a hash table over the left child during Init and probes it lazily
// with the right child's rows. Output rows are the left and right data concatenated.
type HashJoinExecutor struct {
	BaseExecutor
	plan      *plans.HashJoinPlanNode
	left      IExecutor
	right     IExecutor
	buildSide map[string][]*structures.Row
	pending   []*structures.Row
	rightRow  structures.Row
}

func NewHashJoinExecutor(ctx *execution.ExecutorContext, plan *plans.HashJoinPlanNode, left, right IExecutor) *HashJoinExecutor {
	return &HashJoinExecutor{
		BaseExecutor: BaseExecutor{executorCtx: ctx},
		plan:         plan,
		left:         left,
		right:        right,
	}
}

func (e *HashJoinExecutor) Init() error {
	if err := e.left.Init(); err != nil {
		return err
	}
	if err := e.right.Init(); err != nil {
		return err
	}

	e.buildSide = map[string][]*structures.Row{}
	e.pending = nil

	for {
		var row structures.Row
		var rid structures.Rid
		err := e.left.Next(&row, &rid)
		if errors.Is(err, ErrNoRow{}) {
			return nil
		}
		if err != nil {
			return err
		}

		key := string(e.plan.LeftKey(&row))
		kept := row
		e.buildSide[key] = append(e.buildSide[key], &kept)
	}
}

func (e *HashJoinExecutor) Next(row *structures.Row, rid *structures.Rid) error {
	for {
		if len(e.pending) > 0 {
			left := e.pending[0]
			e.pending = e.pending[1:]

			row.Data = concatRows(left.Data, e.rightRow.Data)
			row.Rid = structures.Rid{}
			*rid = structures.Rid{}
			return nil
		}

		var rightRid structures.Rid
		if err := e.right.Next(&e.rightRow, &rightRid); err != nil {
			return err
		}

		key := string(e.plan.RightKey(&e.rightRow))
		e.pending = append(e.pending, e.buildSide[key]...)
	}
}

func concatRows(left, right []byte) []byte {
	data := make([]byte, 0, len(left)+len(right))
	data = append(data, left...)
	data = append(data, right...)
	return data
}
