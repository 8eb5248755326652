package orchestrator

import "github.com/dshills/corepipe/token"

// workItem is one pending hop in the traversal: a token plus the node it
// is about to visit. FromNodeID is the node the token just left (empty
// for a token's first hop off the source); coalesce arrival tracking
// keys its per-branch bookkeeping off it.
type workItem struct {
	Token      token.Info
	NodeID     string
	FromNodeID string
}
