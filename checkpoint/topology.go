// Package checkpoint binds progress markers to the structural shape of
// the DAG that produced them, so a checkpoint can never be replayed
// against a pipeline whose upstream nodes have changed.
package checkpoint

import (
	"sort"

	"github.com/dshills/corepipe/canon"
	"github.com/dshills/corepipe/dag"
)

// nodeFingerprint is the part of a dag.Node that participates in a
// topology hash: identity, plugin, and configuration. Runtime-only
// fields (schema, determinism) are excluded on purpose — two nodes with
// the same plugin and config but a relaxed schema mode would otherwise
// spuriously invalidate checkpoints.
type nodeFingerprint struct {
	ID         string `json:"id"`
	PluginName string `json:"plugin_name"`
	ConfigHash string `json:"config_hash"`
}

// UpstreamTopologyHash hashes the structural shape of every node
// upstream of nodeID (nodeID itself excluded), including their
// configuration, using a SHA-256 over the canonical encoding of the
// sorted fingerprint list so the same ancestor set always hashes the
// same way regardless of registration order.
func UpstreamTopologyHash(g *dag.Graph, nodeID string) (string, error) {
	ancestors := collectAncestors(g, nodeID)
	fingerprints := make([]nodeFingerprint, 0, len(ancestors))
	for id := range ancestors {
		n, ok := g.Node(id)
		if !ok {
			continue
		}
		fingerprints = append(fingerprints, nodeFingerprint{ID: n.ID, PluginName: n.PluginName, ConfigHash: n.ConfigHash})
	}
	sort.Slice(fingerprints, func(i, j int) bool { return fingerprints[i].ID < fingerprints[j].ID })

	encoded := make([]interface{}, len(fingerprints))
	for i, fp := range fingerprints {
		encoded[i] = map[string]interface{}{"id": fp.ID, "plugin_name": fp.PluginName, "config_hash": fp.ConfigHash}
	}
	return canon.Hash(encoded)
}

// NodeConfigHash hashes the configuration of nodeID itself.
func NodeConfigHash(g *dag.Graph, nodeID string) (string, error) {
	n, ok := g.Node(nodeID)
	if !ok {
		return "", dagNodeNotFound(nodeID)
	}
	return canon.Hash(map[string]interface{}{"id": n.ID, "plugin_name": n.PluginName, "config_hash": n.ConfigHash})
}

// collectAncestors walks edges backwards from nodeID via BFS, building
// the in-edge index on the fly since dag.Graph only exposes out-edges.
func collectAncestors(g *dag.Graph, nodeID string) map[string]bool {
	inEdges := make(map[string][]string) // to -> []from
	for _, e := range g.Edges() {
		inEdges[e.To] = append(inEdges[e.To], e.From)
	}

	visited := make(map[string]bool)
	queue := append([]string(nil), inEdges[nodeID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		queue = append(queue, inEdges[id]...)
	}
	return visited
}

type nodeNotFoundError string

func (e nodeNotFoundError) Error() string { return "checkpoint: node not found: " + string(e) }

func dagNodeNotFound(id string) error { return nodeNotFoundError(id) }
