// Package index maintains secondary indexes over (label, property) pairs.
//
// An index maps each property value to the set of live node identifiers
// carrying that value, scoped to one label. Postings are kept in value order
// (tag first, then payload - see props.Value.Compare) so the same structure
// answers point and range lookups.
//
// Indexes are maintained synchronously: the graph layer calls Insert, Update
// and Remove under its write lock before a mutation becomes visible to
// readers. An index therefore reflects exactly the current live set - every
// live node with the label and property appears under its current value, and
// no deleted node appears - which is what lets the planner trust Exists
// without re-validating postings.
//
// Example Usage:
//
//	mgr := index.NewManager()
//	mgr.Create("person", "name", func(emit func(id index.EntityID, v props.Value)) {
//		// full scan of live :person nodes at creation time
//	})
//
//	if mgr.Exists("person", "name") {
//		ids := mgr.Lookup("person", "name", props.StringValue("Alon"))
//		// ids is the live posting set, sorted ascending
//	}
package index

import (
	"sort"

	"github.com/skaldb/skald/pkg/props"
)

// EntityID identifies an indexed node. It is the node's slot identifier in
// the graph's node arena.
type EntityID uint64

// Definition names one registered index. The durable image stores
// definitions only; contents are rebuilt on restore.
type Definition struct {
	Label    string
	Property string
}

// ScanFunc feeds the one-time full scan that populates a new index. The
// implementation calls emit once per live node carrying the label and the
// property; nodes lacking the property are simply skipped.
type ScanFunc func(emit func(id EntityID, v props.Value))

// Manager owns every index of one graph, keyed by (label, property).
//
// Manager is not internally synchronized; like the arenas it is mutated only
// under the graph's single write lock, and read under the read lock.
type Manager struct {
	indexes map[Definition]*propertyIndex
	// defs preserves registration order for deterministic serialization.
	defs []Definition
}

// propertyIndex is one ordered (value -> posting set) structure.
type propertyIndex struct {
	postings map[props.Value]map[EntityID]struct{}
	// keys holds every value with a non-empty posting set, sorted by
	// props.Value.Compare.
	keys []props.Value
}

// NewManager creates an empty index manager.
func NewManager() *Manager {
	return &Manager{indexes: make(map[Definition]*propertyIndex)}
}

// Create registers an index over (label, property) and populates it with a
// one-time full scan of the currently live nodes. Creating an index that
// already exists is a no-op; the existing index is already current by the
// synchronous-maintenance invariant.
func (m *Manager) Create(label, property string, scan ScanFunc) {
	def := Definition{Label: label, Property: property}
	if _, ok := m.indexes[def]; ok {
		return
	}
	idx := &propertyIndex{postings: make(map[props.Value]map[EntityID]struct{})}
	m.indexes[def] = idx
	m.defs = append(m.defs, def)
	if scan != nil {
		scan(func(id EntityID, v props.Value) { idx.insert(id, v) })
	}
}

// Exists reports whether an index covers (label, property). This is the
// capability query the planner consults to decide index scan versus label
// scan; the decision itself lives in the planner.
func (m *Manager) Exists(label, property string) bool {
	_, ok := m.indexes[Definition{Label: label, Property: property}]
	return ok
}

// Lookup returns the identifiers of live nodes whose property equals value,
// sorted ascending. A missing index or an absent value yields an empty
// result, not an error.
func (m *Manager) Lookup(label, property string, value props.Value) []EntityID {
	idx, ok := m.indexes[Definition{Label: label, Property: property}]
	if !ok {
		return nil
	}
	set := idx.postings[value]
	if len(set) == 0 {
		return nil
	}
	return sortedIDs(set)
}

// Range returns the identifiers of live nodes whose property value v
// satisfies min <= v <= max in tag-first order, sorted ascending.
func (m *Manager) Range(label, property string, min, max props.Value) []EntityID {
	idx, ok := m.indexes[Definition{Label: label, Property: property}]
	if !ok {
		return nil
	}
	lo := sort.Search(len(idx.keys), func(i int) bool { return idx.keys[i].Compare(min) >= 0 })
	hi := sort.Search(len(idx.keys), func(i int) bool { return idx.keys[i].Compare(max) > 0 })

	var out []EntityID
	for _, k := range idx.keys[lo:hi] {
		out = append(out, sortedIDs(idx.postings[k])...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Insert adds a posting for a node that gained the property (or was just
// created with it). A no-op when (label, property) is not indexed.
func (m *Manager) Insert(label, property string, id EntityID, v props.Value) {
	if idx, ok := m.indexes[Definition{Label: label, Property: property}]; ok {
		idx.insert(id, v)
	}
}

// Update moves a posting when an indexed property changes value.
// Remove-and-reinsert keeps the ordered key set correct when the old value's
// posting set empties.
func (m *Manager) Update(label, property string, id EntityID, oldV, newV props.Value) {
	if idx, ok := m.indexes[Definition{Label: label, Property: property}]; ok {
		idx.remove(id, oldV)
		idx.insert(id, newV)
	}
}

// Remove drops the posting for a node that lost the property or was deleted.
func (m *Manager) Remove(label, property string, id EntityID, v props.Value) {
	if idx, ok := m.indexes[Definition{Label: label, Property: property}]; ok {
		idx.remove(id, v)
	}
}

// Definitions returns every registered index in creation order.
func (m *Manager) Definitions() []Definition {
	out := make([]Definition, len(m.defs))
	copy(out, m.defs)
	return out
}

// Len returns the number of registered indexes.
func (m *Manager) Len() int { return len(m.defs) }

func (p *propertyIndex) insert(id EntityID, v props.Value) {
	set, ok := p.postings[v]
	if !ok {
		set = make(map[EntityID]struct{})
		p.postings[v] = set
		i := sort.Search(len(p.keys), func(i int) bool { return p.keys[i].Compare(v) >= 0 })
		p.keys = append(p.keys, props.Value{})
		copy(p.keys[i+1:], p.keys[i:])
		p.keys[i] = v
	}
	set[id] = struct{}{}
}

func (p *propertyIndex) remove(id EntityID, v props.Value) {
	set, ok := p.postings[v]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(p.postings, v)
		i := sort.Search(len(p.keys), func(i int) bool { return p.keys[i].Compare(v) >= 0 })
		if i < len(p.keys) && p.keys[i].Equal(v) {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
		}
	}
}

func sortedIDs(set map[EntityID]struct{}) []EntityID {
	ids := make([]EntityID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
