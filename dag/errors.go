package dag

import "errors"

// Configuration errors — raised at construction; always fatal, never
// retried.
var (
	ErrDuplicateProducer    = errors.New("dag: connection already has a producer")
	ErrDuplicateConsumer    = errors.New("dag: connection already has a consumer")
	ErrNamespaceCollision   = errors.New("dag: connection name collides with a sink name")
	ErrUnresolvedConnection = errors.New("dag: on_success does not resolve to a known sink or consumed connection")
	ErrSchemaIncompatible   = errors.New("dag: schema incompatible across edge")
	ErrInvalidCondition     = errors.New("dag: invalid condition expression")
	ErrReservedField        = errors.New("dag: field name collides with a reserved field")
)

// Orchestration invariants — raised when a structural assumption is
// violated at traversal time; always fatal, indicate a programming bug.
var (
	ErrUnknownNode           = errors.New("dag: unknown node id")
	ErrMissingBranchName     = errors.New("dag: token carries a coalesce name but no branch name")
	ErrNoSuccessor           = errors.New("dag: next-node map has no entry for a non-terminal node")
	ErrWalkBoundExceeded     = errors.New("dag: jump-target walk exceeded the structural bound")
	ErrCycleDetected         = errors.New("dag: cycle detected outside a declared coalesce/aggregation join")
)
