package graph

// Checkpoint/restore hooks used by the persistence codec (pkg/snapshot).
//
// The export side is a pure read-only traversal under the read lock: slot
// occupancy (including tombstones and free-list order), the attribute intern
// table, and every live record. The restore side rebuilds a fresh Graph off
// to the side; it is never applied to a graph that has accepted traffic, so
// a failed restore can be discarded without touching live state.

import (
	"errors"

	"github.com/skaldb/skald/pkg/datablock"
	"github.com/skaldb/skald/pkg/props"
)

// ErrRestoreConflict means an Install call targeted a slot that the restored
// arena shape does not mark live, targeted a slot that already received its
// record, or referenced state the image never declared. The codec surfaces
// it as a corrupt image.
var ErrRestoreConflict = errors.New("graph: restore conflict")

// BlockCapacity returns the slots-per-block of both arenas.
func (g *Graph) BlockCapacity() uint64 {
	return g.nodes.BlockCapacity()
}

// AttrNames returns the attribute intern table in ID order.
func (g *Graph) AttrNames() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.attrs.Names()
}

// NodeArena returns the node arena's slot occupancy: the high-water mark and
// the free list in stack order. Together with VisitNodes this is everything
// the codec needs to reproduce identical slot identifiers after restore.
func (g *Graph) NodeArena() (highWater datablock.SlotID, freeList []datablock.SlotID) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes.HighWater(), g.nodes.FreeList()
}

// EdgeArena returns the edge arena's slot occupancy.
func (g *Graph) EdgeArena() (highWater datablock.SlotID, freeList []datablock.SlotID) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges.HighWater(), g.edges.FreeList()
}

// VisitNodes calls fn for every live node in ascending slot order. The attrs
// map is the live interned record; callers must not retain or mutate it.
func (g *Graph) VisitNodes(fn func(id NodeID, labels []string, attrs props.Map) bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	g.nodes.Iterate(func(slot datablock.SlotID, raw any) bool {
		rec := raw.(*nodeRecord)
		return fn(NodeID(slot), rec.labels, rec.attrs)
	})
}

// VisitEdges calls fn for every live edge in ascending slot order.
func (g *Graph) VisitEdges(fn func(id EdgeID, src, dst NodeID, relType string, attrs props.Map) bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	g.edges.Iterate(func(slot datablock.SlotID, raw any) bool {
		rec := raw.(*edgeRecord)
		return fn(EdgeID(slot), rec.src, rec.dst, rec.relType, rec.attrs)
	})
}

// NewFromImage starts a restore: it creates a graph whose arenas have the
// given shape (same ids live, same ids free, same reuse order) and whose
// intern table assigns the same AttrIDs the image was written with. Records
// are then attached with InstallNode/InstallEdge and indexes replayed with
// CreateIndex.
func NewFromImage(opts Options, attrNames []string, nodeHW datablock.SlotID, nodeFree []datablock.SlotID, edgeHW datablock.SlotID, edgeFree []datablock.SlotID) (*Graph, error) {
	g := New(opts)
	if err := g.nodes.Restore(nodeHW, nodeFree); err != nil {
		return nil, err
	}
	if err := g.edges.Restore(edgeHW, edgeFree); err != nil {
		return nil, err
	}
	for _, name := range attrNames {
		g.attrs.Intern(name)
	}
	return g, nil
}

// InstallNode attaches a node record to a slot the restored arena marks
// live. Attribute IDs must come from the image's intern table. Each live
// slot accepts exactly one record; a second install on the same slot means
// the image carried a duplicate identifier.
func (g *Graph) InstallNode(id NodeID, labels []string, attrs props.Map) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if raw, err := g.nodes.Get(datablock.SlotID(id)); err != nil || raw != nil {
		return ErrRestoreConflict
	}
	for attrID := range attrs {
		if int(attrID) >= g.attrs.Len() {
			return ErrRestoreConflict
		}
	}
	rec := &nodeRecord{labels: append([]string(nil), labels...), attrs: attrs.Clone()}
	g.nodes.Set(datablock.SlotID(id), rec)

	for _, label := range rec.labels {
		if g.nodesByLabel[label] == nil {
			g.nodesByLabel[label] = make(map[NodeID]struct{})
		}
		g.nodesByLabel[label][id] = struct{}{}
	}
	return nil
}

// InstallEdge attaches an edge record to a slot the restored arena marks
// live. Both endpoints must already be installed live nodes; an edge whose
// endpoint vanished without cascade is a structural violation of the image.
func (g *Graph) InstallEdge(id EdgeID, src, dst NodeID, relType string, attrs props.Map) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if raw, err := g.edges.Get(datablock.SlotID(id)); err != nil || raw != nil {
		return ErrRestoreConflict
	}
	if !g.nodes.Contains(datablock.SlotID(src)) || !g.nodes.Contains(datablock.SlotID(dst)) {
		return ErrDanglingReference
	}
	for attrID := range attrs {
		if int(attrID) >= g.attrs.Len() {
			return ErrRestoreConflict
		}
	}
	g.edges.Set(datablock.SlotID(id), &edgeRecord{src: src, dst: dst, relType: relType, attrs: attrs.Clone()})

	if g.edgesByType[relType] == nil {
		g.edgesByType[relType] = make(map[EdgeID]struct{})
	}
	g.edgesByType[relType][id] = struct{}{}

	if g.outgoing[src] == nil {
		g.outgoing[src] = make(map[EdgeID]struct{})
	}
	g.outgoing[src][id] = struct{}{}
	if g.incoming[dst] == nil {
		g.incoming[dst] = make(map[EdgeID]struct{})
	}
	g.incoming[dst][id] = struct{}{}
	return nil
}
