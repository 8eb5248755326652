// Package reproducibility computes and degrades a run's reproducibility
// grade: how confidently a completed run could be replayed or at least
// attributed after the fact.
package reproducibility

import "github.com/dshills/corepipe/dag"

// Grade is the confidence level a finished run carries about its own
// reproducibility.
type Grade string

const (
	// FullReproducible means every node is deterministic or seeded: a
	// fresh run with the same inputs reproduces the same outputs
	// without needing any recorded payload.
	FullReproducible Grade = "full_reproducible"
	// ReplayReproducible means at least one node is non-deterministic
	// (external_call or similar), but its recorded call/output payloads
	// let a replay reconstruct the run exactly.
	ReplayReproducible Grade = "replay_reproducible"
	// AttributableOnly means the replay payloads a non-deterministic
	// run needs have been purged (or were never captured): the audit
	// trail still attributes every output to its inputs, but a byte-
	// identical replay is no longer possible.
	AttributableOnly Grade = "attributable_only"
)

// Compute grades a run from the determinism of every node registered
// against it. A run with no nodes (the empty-source case) is
// full_reproducible: there was nothing non-deterministic to run.
func Compute(determinisms []dag.Determinism) Grade {
	for _, d := range determinisms {
		switch d {
		case dag.Deterministic, dag.Seeded:
			continue
		default:
			return ReplayReproducible
		}
	}
	return FullReproducible
}

// DowngradeAfterPurge reports the grade a run should carry once its
// replay payloads have been purged. full_reproducible is unaffected
// since it never depended on payloads for replay; replay_reproducible
// degrades to attributable_only. Per the purge semantics adopted here,
// a partial purge (only some non-deterministic payloads removed) still
// downgrades the entire run — a finer per-node grade was judged not
// worth the added bookkeeping for the attribution guarantee it would
// buy.
func DowngradeAfterPurge(current Grade) Grade {
	if current == ReplayReproducible {
		return AttributableOnly
	}
	return current
}
