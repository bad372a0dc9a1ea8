package graph

import (
	"github.com/skaldb/skald/pkg/index"
	"github.com/skaldb/skald/pkg/props"
)

// SetNodeProperty inserts or overwrites one property on a live node. Every
// index covering (label, name) for any of the node's labels is updated
// before the call returns; a reader can never observe a value the indexes
// have not absorbed.
func (g *Graph) SetNodeProperty(id NodeID, name string, value any) error {
	v, err := props.FromAny(value)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec, err := g.nodeRecord(id)
	if err != nil {
		return err
	}

	attrID := g.attrs.Intern(name)
	old, had := rec.attrs.Get(attrID)
	rec.attrs.Set(attrID, v)

	for _, label := range rec.labels {
		if had {
			g.indexes.Update(label, name, index.EntityID(id), old, v)
		} else {
			g.indexes.Insert(label, name, index.EntityID(id), v)
		}
	}
	return nil
}

// NodeProperty returns one property of a live node. The boolean is false
// when the property is absent; absence is not an error.
func (g *Graph) NodeProperty(id NodeID, name string) (props.Value, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, err := g.nodeRecord(id)
	if err != nil {
		return props.Value{}, false, err
	}
	attrID, ok := g.attrs.Lookup(name)
	if !ok {
		return props.Value{}, false, nil
	}
	v, ok := rec.attrs.Get(attrID)
	return v, ok, nil
}

// RemoveNodeProperty deletes one property from a live node and drops its
// postings from every covering index. Removing an absent property is a
// no-op.
func (g *Graph) RemoveNodeProperty(id NodeID, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, err := g.nodeRecord(id)
	if err != nil {
		return err
	}
	attrID, ok := g.attrs.Lookup(name)
	if !ok {
		return nil
	}
	old, had := rec.attrs.Get(attrID)
	if !had {
		return nil
	}
	rec.attrs.Remove(attrID)

	for _, label := range rec.labels {
		g.indexes.Remove(label, name, index.EntityID(id), old)
	}
	return nil
}

// SetEdgeProperty inserts or overwrites one property on a live edge.
// Edges are grouped by relation type, not label, and carry no secondary
// indexes.
func (g *Graph) SetEdgeProperty(id EdgeID, name string, value any) error {
	v, err := props.FromAny(value)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec, err := g.edgeRecord(id)
	if err != nil {
		return err
	}
	rec.attrs.Set(g.attrs.Intern(name), v)
	return nil
}

// EdgeProperty returns one property of a live edge.
func (g *Graph) EdgeProperty(id EdgeID, name string) (props.Value, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, err := g.edgeRecord(id)
	if err != nil {
		return props.Value{}, false, err
	}
	attrID, ok := g.attrs.Lookup(name)
	if !ok {
		return props.Value{}, false, nil
	}
	v, ok := rec.attrs.Get(attrID)
	return v, ok, nil
}

// RemoveEdgeProperty deletes one property from a live edge.
func (g *Graph) RemoveEdgeProperty(id EdgeID, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, err := g.edgeRecord(id)
	if err != nil {
		return err
	}
	if attrID, ok := g.attrs.Lookup(name); ok {
		rec.attrs.Remove(attrID)
	}
	return nil
}

// CreateIndex registers a secondary index over (label, property) and
// populates it from the currently live nodes carrying that label. Nodes
// lacking the property are simply not indexed. Creating the same index
// twice is a no-op.
func (g *Graph) CreateIndex(label, property string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.indexes.Create(label, property, func(emit func(index.EntityID, props.Value)) {
		attrID, ok := g.attrs.Lookup(property)
		if !ok {
			return
		}
		for id := range g.nodesByLabel[label] {
			rec, err := g.nodeRecord(id)
			if err != nil {
				continue
			}
			if v, ok := rec.attrs.Get(attrID); ok {
				emit(index.EntityID(id), v)
			}
		}
	})
}

// IndexExists reports whether an index covers (label, property). The
// planner calls this to choose an index seek over a label scan.
func (g *Graph) IndexExists(label, property string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.indexes.Exists(label, property)
}

// IndexLookup answers a point lookup through the (label, property) index.
// Returns the matching live node identifiers sorted ascending; empty when
// no index exists, the value is unrepresentable, or nothing matches.
func (g *Graph) IndexLookup(label, property string, value any) []NodeID {
	v, err := props.FromAny(value)
	if err != nil {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := g.indexes.Lookup(label, property, v)
	out := make([]NodeID, len(ids))
	for i, id := range ids {
		out[i] = NodeID(id)
	}
	return out
}

// IndexRange answers an ordered range lookup min <= value <= max through
// the (label, property) index.
func (g *Graph) IndexRange(label, property string, min, max any) []NodeID {
	lo, err := props.FromAny(min)
	if err != nil {
		return nil
	}
	hi, err := props.FromAny(max)
	if err != nil {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := g.indexes.Range(label, property, lo, hi)
	out := make([]NodeID, len(ids))
	for i, id := range ids {
		out[i] = NodeID(id)
	}
	return out
}

// IndexDefinitions returns every registered index in creation order.
func (g *Graph) IndexDefinitions() []index.Definition {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.indexes.Definitions()
}
