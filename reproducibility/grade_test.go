package reproducibility

import (
	"testing"

	"github.com/dshills/corepipe/dag"
)

func TestComputeFullReproducible(t *testing.T) {
	grade := Compute([]dag.Determinism{dag.Deterministic, dag.Deterministic, dag.Seeded})
	if grade != FullReproducible {
		t.Fatalf("expected full_reproducible, got %s", grade)
	}
}

func TestComputeReplayReproducible(t *testing.T) {
	grade := Compute([]dag.Determinism{dag.Deterministic, dag.ExternalCall, dag.Deterministic})
	if grade != ReplayReproducible {
		t.Fatalf("expected replay_reproducible, got %s", grade)
	}
}

func TestComputeEmptyIsFullReproducible(t *testing.T) {
	grade := Compute(nil)
	if grade != FullReproducible {
		t.Fatalf("expected full_reproducible for empty determinism set, got %s", grade)
	}
}

func TestDowngradeAfterPurge(t *testing.T) {
	if got := DowngradeAfterPurge(ReplayReproducible); got != AttributableOnly {
		t.Fatalf("expected attributable_only, got %s", got)
	}
	if got := DowngradeAfterPurge(FullReproducible); got != FullReproducible {
		t.Fatalf("expected full_reproducible unchanged, got %s", got)
	}
	if got := DowngradeAfterPurge(AttributableOnly); got != AttributableOnly {
		t.Fatalf("expected attributable_only unchanged, got %s", got)
	}
}
