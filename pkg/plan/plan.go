// Package plan builds and renders execution plans for node lookups.
//
// A Query names a label and optionally a property equality predicate. The
// planner asks the graph which access path is available and picks the
// cheapest: an "Index Scan" through a secondary index when one covers
// (label, property), otherwise a "Label Scan" with a residual "Filter". The
// rendered plan makes the chosen access path visible, so callers (and tests)
// can confirm that creating an index actually changes how a query runs.
//
// Plans are pure descriptions; Run executes one against a graph.
package plan

import (
	"fmt"
	"strings"

	"github.com/skaldb/skald/pkg/graph"
	"github.com/skaldb/skald/pkg/props"
)

// Operator names as they appear in rendered plans.
const (
	OpResults   = "Results"
	OpFilter    = "Filter"
	OpLabelScan = "Label Scan"
	OpIndexScan = "Index Scan"
)

// Query is a point lookup: all nodes with Label whose Property equals Value.
// Property may be empty, making it a bare label scan.
type Query struct {
	Label    string
	Property string
	Value    any
}

// Operator is one node of the plan tree. Execution flows bottom-up: leaves
// produce entities, parents consume them.
type Operator struct {
	// Name identifies the operator kind (OpIndexScan, OpLabelScan, ...).
	Name string

	// Description is the operator with its arguments, as rendered.
	Description string

	Children []*Operator
}

// Plan is a complete operator tree for one query.
type Plan struct {
	Root  *Operator
	query Query
}

// Build plans q against the graph's current access paths. The decision is
// made at build time: an index created after Build does not retroactively
// change an existing plan.
func Build(g *graph.Graph, q Query) *Plan {
	var source *Operator
	switch {
	case q.Property != "" && g.IndexExists(q.Label, q.Property):
		source = &Operator{
			Name:        OpIndexScan,
			Description: fmt.Sprintf("%s | (n:%s {%s})", OpIndexScan, q.Label, q.Property),
		}
	case q.Property != "":
		source = &Operator{
			Name:        OpFilter,
			Description: fmt.Sprintf("%s | n.%s = %v", OpFilter, q.Property, q.Value),
			Children: []*Operator{{
				Name:        OpLabelScan,
				Description: fmt.Sprintf("%s | (n:%s)", OpLabelScan, q.Label),
			}},
		}
	default:
		source = &Operator{
			Name:        OpLabelScan,
			Description: fmt.Sprintf("%s | (n:%s)", OpLabelScan, q.Label),
		}
	}

	return &Plan{
		Root: &Operator{
			Name:        OpResults,
			Description: OpResults,
			Children:    []*Operator{source},
		},
		query: q,
	}
}

// Describe renders the plan root-first, one operator per line, children
// indented under their parent.
func (p *Plan) Describe() string {
	var b strings.Builder
	describe(&b, p.Root, 0)
	return b.String()
}

func describe(b *strings.Builder, op *Operator, depth int) {
	b.WriteString(strings.Repeat("    ", depth))
	b.WriteString(op.Description)
	b.WriteByte('\n')
	for _, child := range op.Children {
		describe(b, child, depth+1)
	}
}

// Uses reports whether the plan contains an operator with the given name.
func (p *Plan) Uses(name string) bool {
	return uses(p.Root, name)
}

func uses(op *Operator, name string) bool {
	if op.Name == name {
		return true
	}
	for _, child := range op.Children {
		if uses(child, name) {
			return true
		}
	}
	return false
}

// Run executes the plan against g and returns the matching node identifiers
// in ascending order. Both access paths return the same result set; only the
// work done differs.
func (p *Plan) Run(g *graph.Graph) []graph.NodeID {
	return run(g, leafmost(p.Root), p.query)
}

// leafmost walks to the access-path operator at the bottom of the tree.
func leafmost(op *Operator) *Operator {
	for len(op.Children) > 0 {
		op = op.Children[0]
	}
	return op
}

func run(g *graph.Graph, source *Operator, q Query) []graph.NodeID {
	if source.Name == OpIndexScan {
		return g.IndexLookup(q.Label, q.Property, q.Value)
	}

	ids := g.Nodes(q.Label)
	if q.Property == "" {
		return ids
	}

	want, err := props.FromAny(q.Value)
	if err != nil {
		return nil
	}
	matched := ids[:0]
	for _, id := range ids {
		v, ok, err := g.NodeProperty(id, q.Property)
		if err != nil || !ok {
			continue
		}
		if v.Equal(want) {
			matched = append(matched, id)
		}
	}
	return matched
}
