// Package graph implements SKALD's labeled property graph.
//
// A Graph stores nodes and edges in two datablock arenas, so every entity
// has a stable slot identifier that survives arbitrary delete/create churn.
// On top of the arenas it maintains the lookup structure the storage core
// owes its callers: label and relation-type groupings, per-node adjacency,
// interned property maps, and synchronous secondary indexes.
//
// Deleting a node cascades to every incident edge. An edge record owns
// non-optional references to both endpoints, so a dangling edge would break
// the entity invariant; cascade-by-construction is what keeps that class of
// corruption out of the error handling entirely. Cascaded deletes are also
// what produce the non-contiguous holes the persistence codec must carry
// through a checkpoint.
//
// Concurrency model: single writer. All mutations take the write lock; reads
// and checkpoint traversals share the read lock. Nothing below this layer
// locks.
//
// Example Usage:
//
//	g := graph.New(graph.Options{})
//
//	alon, _ := g.AddNode([]string{"person"}, map[string]any{"name": "Alon"})
//	israel, _ := g.AddNode([]string{"country"}, map[string]any{"name": "Israel"})
//
//	visit, err := g.AddEdge(alon, israel, "visit", map[string]any{"purpose": "pleasure"})
//	if err != nil {
//		// errors.Is(err, graph.ErrDanglingReference) when an endpoint is gone
//	}
//
//	g.CreateIndex("person", "name")
//	ids := g.IndexLookup("person", "name", "Alon") // index-backed point lookup
//
//	g.DeleteNode(israel) // also deletes visit
//	_ = visit
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/skaldb/skald/pkg/datablock"
	"github.com/skaldb/skald/pkg/index"
	"github.com/skaldb/skald/pkg/props"
)

// Common errors returned by Graph operations.
var (
	// ErrNotFound means an identifier never resolved to an entity.
	ErrNotFound = errors.New("graph: not found")
	// ErrAlreadyDeleted means the identifier resolved to a tombstoned slot.
	ErrAlreadyDeleted = errors.New("graph: already deleted")
	// ErrDanglingReference means an edge endpoint is not a live node.
	ErrDanglingReference = errors.New("graph: dangling node reference")
)

// NodeID identifies a live node. IDs are dense, stable while the node is
// live, and reusable after the slot is reclaimed.
type NodeID uint64

// EdgeID identifies a live edge.
type EdgeID uint64

// Node is a read-only copy of a node handed to callers outside the storage
// boundary. Mutating it has no effect on the graph.
type Node struct {
	ID         NodeID
	Labels     []string
	Properties map[string]any
}

// Edge is a read-only copy of an edge.
type Edge struct {
	ID         EdgeID
	Src        NodeID
	Dst        NodeID
	Type       string
	Properties map[string]any
}

// nodeRecord is the arena-resident node representation.
type nodeRecord struct {
	labels []string
	attrs  props.Map
}

// edgeRecord is the arena-resident edge representation. src and dst are
// non-optional; the cascade in DeleteNode is what keeps them resolvable.
type edgeRecord struct {
	src     NodeID
	dst     NodeID
	relType string
	attrs   props.Map
}

// Options configures a Graph.
type Options struct {
	// BlockCapacity is the slots-per-block of both arenas. Zero means
	// datablock.DefaultBlockCapacity.
	BlockCapacity uint64

	// MaxNodes / MaxEdges are optional hard caps, surfaced as
	// datablock.ErrCapacityExceeded from the add operations.
	MaxNodes uint64
	MaxEdges uint64
}

// Graph is a labeled property graph over tombstone-aware slot arenas.
type Graph struct {
	mu   sync.RWMutex
	opts Options

	nodes *datablock.Store
	edges *datablock.Store

	attrs   *props.AttrSet
	indexes *index.Manager

	nodesByLabel map[string]map[NodeID]struct{}
	edgesByType  map[string]map[EdgeID]struct{}
	outgoing     map[NodeID]map[EdgeID]struct{}
	incoming     map[NodeID]map[EdgeID]struct{}
}

// New creates an empty graph.
func New(opts Options) *Graph {
	return &Graph{
		opts:         opts,
		nodes:        datablock.New(datablock.Options{Capacity: opts.BlockCapacity, MaxSlots: opts.MaxNodes}),
		edges:        datablock.New(datablock.Options{Capacity: opts.BlockCapacity, MaxSlots: opts.MaxEdges}),
		attrs:        props.NewAttrSet(),
		indexes:      index.NewManager(),
		nodesByLabel: make(map[string]map[NodeID]struct{}),
		edgesByType:  make(map[string]map[EdgeID]struct{}),
		outgoing:     make(map[NodeID]map[EdgeID]struct{}),
		incoming:     make(map[NodeID]map[EdgeID]struct{}),
	}
}

// AddNode creates a node with the given labels and properties and returns
// its identifier. Properties are converted through props.FromAny; an
// unsupported property type fails the whole operation with no side effects.
func (g *Graph) AddNode(labels []string, properties map[string]any) (NodeID, error) {
	attrs, err := g.convertProps(properties)
	if err != nil {
		return 0, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	slot, err := g.nodes.Allocate()
	if err != nil {
		return 0, err
	}
	id := NodeID(slot)

	m := props.Map{}
	for name, v := range attrs {
		m.Set(g.attrs.Intern(name), v)
	}
	rec := &nodeRecord{labels: append([]string(nil), labels...), attrs: m}
	g.nodes.Set(slot, rec)

	for _, label := range rec.labels {
		if g.nodesByLabel[label] == nil {
			g.nodesByLabel[label] = make(map[NodeID]struct{})
		}
		g.nodesByLabel[label][id] = struct{}{}
	}

	// Synchronous index maintenance: the node is visible to lookups the
	// moment AddNode returns.
	for _, label := range rec.labels {
		for attrID, v := range rec.attrs {
			name, _ := g.attrs.Name(attrID)
			g.indexes.Insert(label, name, index.EntityID(id), v)
		}
	}
	return id, nil
}

// AddEdge creates a directed edge of the given relation type between two
// live nodes. Returns ErrDanglingReference when either endpoint does not
// resolve to a live node; the failed call has no partial side effects.
func (g *Graph) AddEdge(src, dst NodeID, relType string, properties map[string]any) (EdgeID, error) {
	attrs, err := g.convertProps(properties)
	if err != nil {
		return 0, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.nodes.Contains(datablock.SlotID(src)) || !g.nodes.Contains(datablock.SlotID(dst)) {
		return 0, ErrDanglingReference
	}

	slot, err := g.edges.Allocate()
	if err != nil {
		return 0, err
	}
	id := EdgeID(slot)

	m := props.Map{}
	for name, v := range attrs {
		m.Set(g.attrs.Intern(name), v)
	}
	g.edges.Set(slot, &edgeRecord{src: src, dst: dst, relType: relType, attrs: m})

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

	return id, nil
}

// DeleteNode tombstones a node and cascades to every edge incident to it as
// source or destination. After it returns, no scan or lookup can observe the
// node or any of its former edges.
//
// Returns ErrAlreadyDeleted for a tombstoned identifier and ErrNotFound for
// one that was never allocated.
func (g *Graph) DeleteNode(id NodeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, err := g.nodeRecord(id)
	if err != nil {
		return err
	}

	// Cascade first: edge records reference the node, so they must go
	// before the node's slot is reclaimed.
	for edgeID := range g.outgoing[id] {
		g.deleteEdgeLocked(edgeID)
	}
	for edgeID := range g.incoming[id] {
		g.deleteEdgeLocked(edgeID)
	}
	delete(g.outgoing, id)
	delete(g.incoming, id)

	for _, label := range rec.labels {
		if set := g.nodesByLabel[label]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(g.nodesByLabel, label)
			}
		}
		for attrID, v := range rec.attrs {
			name, _ := g.attrs.Name(attrID)
			g.indexes.Remove(label, name, index.EntityID(id), v)
		}
	}

	return g.nodes.Free(datablock.SlotID(id))
}

// DeleteEdge tombstones a single edge.
func (g *Graph) DeleteEdge(id EdgeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.edgeRecord(id); err != nil {
		return err
	}
	g.deleteEdgeLocked(id)
	return nil
}

// deleteEdgeLocked removes an edge known to be live. Caller holds the write
// lock.
func (g *Graph) deleteEdgeLocked(id EdgeID) {
	raw, err := g.edges.Get(datablock.SlotID(id))
	if err != nil {
		return
	}
	rec := raw.(*edgeRecord)

	if set := g.edgesByType[rec.relType]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(g.edgesByType, rec.relType)
		}
	}
	if set := g.outgoing[rec.src]; set != nil {
		delete(set, id)
	}
	if set := g.incoming[rec.dst]; set != nil {
		delete(set, id)
	}
	g.edges.Free(datablock.SlotID(id))
}

// GetNode returns a copy of a live node.
func (g *Graph) GetNode(id NodeID) (Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, err := g.nodeRecord(id)
	if err != nil {
		return Node{}, err
	}
	return g.nodeView(id, rec), nil
}

// GetEdge returns a copy of a live edge.
func (g *Graph) GetEdge(id EdgeID) (Edge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, err := g.edgeRecord(id)
	if err != nil {
		return Edge{}, err
	}
	return g.edgeView(id, rec), nil
}

// NodeCount returns the logical number of live nodes carrying label, or the
// total live node count when label is empty. Tombstoned slots never count.
func (g *Graph) NodeCount(label string) uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if label == "" {
		return g.nodes.Len()
	}
	return uint64(len(g.nodesByLabel[label]))
}

// EdgeCount returns the logical number of live edges of relType, or the
// total live edge count when relType is empty.
func (g *Graph) EdgeCount(relType string) uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if relType == "" {
		return g.edges.Len()
	}
	return uint64(len(g.edgesByType[relType]))
}

// Nodes returns the identifiers of live nodes carrying label, sorted
// ascending. An empty label scans every live node. This is the planner's
// full label scan.
func (g *Graph) Nodes(label string) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if label == "" {
		slots := g.nodes.IDs()
		out := make([]NodeID, len(slots))
		for i, s := range slots {
			out[i] = NodeID(s)
		}
		return out
	}
	out := make([]NodeID, 0, len(g.nodesByLabel[label]))
	for id := range g.nodesByLabel[label] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Edges returns the identifiers of live edges of relType, sorted ascending.
// An empty relType scans every live edge.
func (g *Graph) Edges(relType string) []EdgeID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if relType == "" {
		slots := g.edges.IDs()
		out := make([]EdgeID, len(slots))
		for i, s := range slots {
			out[i] = EdgeID(s)
		}
		return out
	}
	out := make([]EdgeID, 0, len(g.edgesByType[relType]))
	for id := range g.edgesByType[relType] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// OutgoingEdges returns the identifiers of live edges whose source is node.
func (g *Graph) OutgoingEdges(node NodeID) []EdgeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return edgeSetToSlice(g.outgoing[node])
}

// IncomingEdges returns the identifiers of live edges whose destination is
// node.
func (g *Graph) IncomingEdges(node NodeID) []EdgeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return edgeSetToSlice(g.incoming[node])
}

// OutDegree returns the number of live outgoing edges.
func (g *Graph) OutDegree(node NodeID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.outgoing[node])
}

// InDegree returns the number of live incoming edges.
func (g *Graph) InDegree(node NodeID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.incoming[node])
}

// Labels returns every label with at least one live node, sorted.
func (g *Graph) Labels() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, 0, len(g.nodesByLabel))
	for l := range g.nodesByLabel {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// RelationTypes returns every relation type with at least one live edge,
// sorted.
func (g *Graph) RelationTypes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, 0, len(g.edgesByType))
	for t := range g.edgesByType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// nodeRecord resolves a live node record. Caller holds a lock.
func (g *Graph) nodeRecord(id NodeID) (*nodeRecord, error) {
	raw, err := g.nodes.Get(datablock.SlotID(id))
	if err != nil {
		return nil, g.mapSlotErr(err, datablock.SlotID(id), g.nodes)
	}
	return raw.(*nodeRecord), nil
}

// edgeRecord resolves a live edge record. Caller holds a lock.
func (g *Graph) edgeRecord(id EdgeID) (*edgeRecord, error) {
	raw, err := g.edges.Get(datablock.SlotID(id))
	if err != nil {
		return nil, g.mapSlotErr(err, datablock.SlotID(id), g.edges)
	}
	return raw.(*edgeRecord), nil
}

// mapSlotErr distinguishes "never existed" from "existed, now tombstoned".
func (g *Graph) mapSlotErr(err error, id datablock.SlotID, store *datablock.Store) error {
	if errors.Is(err, datablock.ErrNotFound) && id < store.HighWater() {
		return ErrAlreadyDeleted
	}
	return ErrNotFound
}

func (g *Graph) nodeView(id NodeID, rec *nodeRecord) Node {
	return Node{
		ID:         id,
		Labels:     append([]string(nil), rec.labels...),
		Properties: g.exportProps(rec.attrs),
	}
}

func (g *Graph) edgeView(id EdgeID, rec *edgeRecord) Edge {
	return Edge{
		ID:         id,
		Src:        rec.src,
		Dst:        rec.dst,
		Type:       rec.relType,
		Properties: g.exportProps(rec.attrs),
	}
}

// exportProps converts an interned map to a name-keyed dynamic map for
// callers outside the storage boundary.
func (g *Graph) exportProps(m props.Map) map[string]any {
	out := make(map[string]any, len(m))
	for attrID, v := range m {
		if name, ok := g.attrs.Name(attrID); ok {
			out[name] = v.Any()
		}
	}
	return out
}

// convertProps validates and converts a dynamic property map before any
// lock is taken, so a type error cannot leave partial state behind.
func (g *Graph) convertProps(properties map[string]any) (map[string]props.Value, error) {
	if len(properties) == 0 {
		return nil, nil
	}
	out := make(map[string]props.Value, len(properties))
	for name, raw := range properties {
		v, err := props.FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func edgeSetToSlice(set map[EdgeID]struct{}) []EdgeID {
	out := make([]EdgeID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
