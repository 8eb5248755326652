package orchestrator

import "errors"

// Orchestration invariants: always fatal, indicate a programming bug or
// a DAG/registry mismatch rather than a data or plugin problem.
var (
	ErrNoPluginBound   = errors.New("orchestrator: node has no bound plugin")
	ErrWrongPluginType = errors.New("orchestrator: node's bound plugin does not satisfy the role its node type requires")
	ErrUnknownOutcome  = errors.New("orchestrator: plugin returned a result kind the driver does not recognize")
	ErrCanceled        = errors.New("orchestrator: run canceled")
)
