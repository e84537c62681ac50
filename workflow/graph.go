// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package workflow

import "fmt"

// graph is one run's compiled view of a definition: nodes indexed by id
// plus the unique trigger entry point. Graphs are built per execution
// and never shared; the definition itself stays immutable.
type graph struct {
	nodes map[string]*Node
	entry string
}

// buildGraph validates the definition structurally and indexes it.
// Rejected outright: empty graphs, duplicate ids, unknown node types,
// zero or multiple triggers, edges to undeclared nodes, and condition
// edges missing one of their two outcomes. Cycles are allowed; the
// executor's step budget bounds them at run time.
func buildGraph(workflowID string, def *Definition) (*graph, error) {
	fail := func(format string, args ...any) error {
		return &GraphError{WorkflowID: workflowID, Message: fmt.Sprintf(format, args...)}
	}

	if len(def.Nodes) == 0 {
		return nil, fail("definition has no nodes")
	}

	g := &graph{nodes: make(map[string]*Node, len(def.Nodes))}
	for i := range def.Nodes {
		n := &def.Nodes[i]
		if n.ID == "" {
			return nil, fail("node %d has no id", i)
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, fail("duplicate node id %q", n.ID)
		}
		if !nodeTypes[n.Type] {
			return nil, fail("node %q has unknown type %q", n.ID, n.Type)
		}
		if n.Type == NodeTrigger {
			if g.entry != "" {
				return nil, fail("multiple trigger nodes (%q and %q)", g.entry, n.ID)
			}
			g.entry = n.ID
		}
		g.nodes[n.ID] = n
	}
	if g.entry == "" {
		return nil, fail("no trigger node")
	}

	for _, n := range g.nodes {
		if len(n.Connections) == 0 {
			continue // sink node, wired to the terminal state
		}
		if _, ok := n.Connections["next"]; ok {
			if len(n.Connections) != 1 {
				return nil, fail("node %q mixes next with other connection keys", n.ID)
			}
		} else {
			_, hasTrue := n.Connections["true"]
			_, hasFalse := n.Connections["false"]
			if !hasTrue || !hasFalse || len(n.Connections) != 2 {
				return nil, fail("node %q needs either a next edge or both true and false edges", n.ID)
			}
		}
		for key, target := range n.Connections {
			if _, ok := g.nodes[target]; !ok {
				return nil, fail("node %q connection %q targets unknown node %q", n.ID, key, target)
			}
		}
	}
	return g, nil
}

// next resolves the outgoing edge of node after its handler ran. A
// conditional edge routes on the state's last condition result; an empty
// return means the terminal state.
func (g *graph) next(n *Node, state *ExecutionState) string {
	if len(n.Connections) == 0 {
		return ""
	}
	if target, ok := n.Connections["next"]; ok {
		return target
	}
	result, _ := state.Variables["condition_result"].(bool)
	if result {
		return n.Connections["true"]
	}
	return n.Connections["false"]
}
