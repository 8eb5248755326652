package orchestrator

import (
	"context"
	"time"

	"github.com/dshills/corepipe/condition"
	"github.com/dshills/corepipe/dag"
	"github.com/dshills/corepipe/token"
)

// aggregationState tracks one batching node's open buffer: the members
// accumulated so far and the batch row they were recorded under.
type aggregationState struct {
	spec    dag.AggregationSpec
	trigger *condition.Expr // nil when Trigger.Condition is unset

	batchID string
	members []token.Info
	opened  time.Time
}

func newAggregationState(spec dag.AggregationSpec) (*aggregationState, error) {
	s := &aggregationState{spec: spec}
	if spec.Trigger.Condition != "" {
		expr, err := condition.Parse(spec.Trigger.Condition)
		if err != nil {
			return nil, err
		}
		s.trigger = expr
	}
	return s, nil
}

func (s *aggregationState) add(tok token.Info) {
	if len(s.members) == 0 {
		s.opened = time.Now()
	}
	s.members = append(s.members, tok)
}

// fires reports whether the first trigger configured for this
// aggregation has fired. The first condition to match flushes the
// batch; count and timeout are checked directly, condition is evaluated
// against the restricted batch_count/batch_age_seconds variable set.
func (s *aggregationState) fires(ctx context.Context) (bool, error) {
	count := len(s.members)
	if count == 0 {
		return false, nil
	}
	if s.spec.Trigger.Count > 0 && count >= s.spec.Trigger.Count {
		return true, nil
	}
	ageSeconds := time.Since(s.opened).Seconds()
	if s.spec.Trigger.TimeoutSeconds > 0 && ageSeconds >= s.spec.Trigger.TimeoutSeconds {
		return true, nil
	}
	if s.trigger != nil {
		return s.trigger.EvalBatchTrigger(ctx, count, ageSeconds)
	}
	return false, nil
}

// reset clears the buffer after a flush, ready for the next batch.
func (s *aggregationState) reset() {
	s.batchID = ""
	s.members = nil
	s.opened = time.Time{}
}
