package executors

import (
	"encoding/binary"
	"errors"

	"kiln/disk/structures"
	"kiln/execution"
	"kiln/execution/plans"
)

type aggregateState struct {
	count int64
	sum   int64
	min   int64
	max   int64
	seen  bool
}

func (s *aggregateState) combine(v int64) {
	s.count++
	s.sum += v
	if !s.seen || v < s.min {
		s.min = v
	}
	if !s.seen || v > s.max {
		s.max = v
	}
	s.seen = true
}

func (s *aggregateState) result(t plans.AggregationType) int64 {
	switch t {
	case plans.CountAggregate:
		return s.count
	case plans.SumAggregate:
		return s.sum
	case plans.MinAggregate:
		return s.min
	case plans.MaxAggregate:
		return s.max
	}
	return 0
}

// AggregationExecutor drains its child during Init and yields one row per group. The output row
// carries the group's aggregates as big endian 8 byte values in plan order.
type AggregationExecutor struct {
	BaseExecutor
	plan       *plans.AggregationPlanNode
	child      IExecutor
	groupOrder []string
	groups     map[string]*aggregateState
	emitted    int
}

func NewAggregationExecutor(ctx *execution.ExecutorContext, plan *plans.AggregationPlanNode, child IExecutor) *AggregationExecutor {
	return &AggregationExecutor{
		BaseExecutor: BaseExecutor{executorCtx: ctx},
		plan:         plan,
		child:        child,
	}
}

func (e *AggregationExecutor) Init() error {
	if err := e.child.Init(); err != nil {
		return err
	}

	e.groupOrder = nil
	e.groups = map[string]*aggregateState{}
	e.emitted = 0

	var row structures.Row
	var rid structures.Rid
	for {
		err := e.child.Next(&row, &rid)
		if errors.Is(err, ErrNoRow{}) {
			return nil
		}
		if err != nil {
			return err
		}

		groupKey := ""
		if e.plan.GroupBy != nil {
			groupKey = string(e.plan.GroupBy(&row))
		}

		state, ok := e.groups[groupKey]
		if !ok {
			state = &aggregateState{}
			e.groups[groupKey] = state
			e.groupOrder = append(e.groupOrder, groupKey)
		}
		state.combine(e.plan.Value(&row))
	}
}

func (e *AggregationExecutor) Next(row *structures.Row, rid *structures.Rid) error {
	if e.emitted == len(e.groupOrder) {
		return ErrNoRow{}
	}

	state := e.groups[e.groupOrder[e.emitted]]
	e.emitted++

	data := make([]byte, 8*len(e.plan.Types))
	for i, t := range e.plan.Types {
		binary.BigEndian.PutUint64(data[8*i:], uint64(state.result(t)))
	}

	row.Data = data
	row.Rid = structures.Rid{}
	*rid = structures.Rid{}
	return nil
}
