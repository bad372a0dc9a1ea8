// Package skald ties the engine together: an in-memory graph, the durable
// image codec, the named-image keyspace, and the query planner, behind one
// DB handle.
//
// Lifecycle:
//
//	db, err := skald.Open(skald.Options{Name: "social", Dir: "./data"})
//	if err != nil { ... }
//	defer db.Close()
//
//	// mutate, query, index ...
//	if err := db.Checkpoint(ctx); err != nil { ... }
//	// or prove durability end to end:
//	if err := db.Reload(ctx); err != nil { ... }
//
// Open loads the newest saved image for Name if one exists, otherwise it
// starts empty. Checkpoint serializes the live graph and saves it under
// Name. Reload goes the whole way around: checkpoint, decode the image into
// a fresh graph, and atomically swap it in - afterwards every observation
// comes from bytes that round-tripped through the durable format.
//
// Concurrency: the graph serializes its own operations, but Checkpoint and
// Reload need the graph quiescent for their whole span, not just per call.
// DB layers a second RWMutex for that: mutations hold it shared, Checkpoint
// and Reload hold it exclusive. Reads go straight to the current graph.
package skald

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skaldb/skald/pkg/config"
	"github.com/skaldb/skald/pkg/graph"
	"github.com/skaldb/skald/pkg/index"
	"github.com/skaldb/skald/pkg/keyspace"
	"github.com/skaldb/skald/pkg/plan"
	"github.com/skaldb/skald/pkg/props"
	"github.com/skaldb/skald/pkg/snapshot"
)

// ErrClosed means the DB handle was already closed.
var ErrClosed = errors.New("skald: database closed")

// Options configures Open.
type Options struct {
	// Name keys the durable image in the keyspace. Required.
	Name string

	// Dir is the keyspace directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps the keyspace in RAM. Checkpoints and reloads still
	// exercise the full image codec; only disk persistence is skipped.
	InMemory bool

	// SyncWrites forces fsync on every checkpoint save.
	SyncWrites bool

	// Graph tunes the in-memory engine (block capacity, entity caps). The
	// caps also apply to graphs restored from an image; only the block
	// capacity is taken from the image, so slot arithmetic matches the
	// writer.
	Graph graph.Options

	// CheckpointInterval enables automatic background checkpoints. Zero
	// disables them; the application checkpoints explicitly.
	CheckpointInterval time.Duration

	// CheckpointOnClose checkpoints once more during Close, so the latest
	// state survives shutdown without an explicit call.
	CheckpointOnClose bool
}

// DB is a named graph database. Safe for concurrent use.
type DB struct {
	name    string
	gopts   graph.Options
	current atomic.Pointer[graph.Graph]
	images  *keyspace.Store

	// swapMu orders checkpoints and reloads against mutations. Mutations
	// take it shared so they still run concurrently with each other (the
	// graph's own lock serializes them); Checkpoint and Reload take it
	// exclusive so the image reflects one consistent point in time.
	swapMu sync.RWMutex

	lastCheckpoint atomic.Int64 // unix nanos of the last successful save

	checkpointOnClose bool
	stopAuto          chan struct{}
	autoDone          sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// Open opens the database named opts.Name, restoring its newest saved image
// if one exists.
func Open(opts Options) (*DB, error) {
	if opts.Name == "" {
		return nil, errors.New("skald: Options.Name is required")
	}

	images, err := keyspace.Open(keyspace.Options{
		Dir:        opts.Dir,
		InMemory:   opts.InMemory,
		SyncWrites: opts.SyncWrites,
	})
	if err != nil {
		return nil, err
	}

	db := &DB{
		name:              opts.Name,
		gopts:             opts.Graph,
		images:            images,
		checkpointOnClose: opts.CheckpointOnClose,
	}

	image, err := images.Load(opts.Name)
	switch {
	case errors.Is(err, keyspace.ErrNotFound):
		db.current.Store(graph.New(opts.Graph))
	case err != nil:
		images.Close()
		return nil, err
	default:
		g, err := snapshot.Restore(image, opts.Graph)
		if err != nil {
			images.Close()
			return nil, fmt.Errorf("skald: restore %q: %w", opts.Name, err)
		}
		db.current.Store(g)
	}

	if opts.CheckpointInterval > 0 {
		db.stopAuto = make(chan struct{})
		db.autoDone.Add(1)
		go db.autoCheckpoint(opts.CheckpointInterval)
	}
	return db, nil
}

// OpenFromConfig opens the database described by a loaded configuration.
func OpenFromConfig(cfg *config.Config) (*DB, error) {
	return Open(Options{
		Name:       cfg.Database.Name,
		Dir:        cfg.Database.DataDir,
		InMemory:   cfg.Database.InMemory,
		SyncWrites: cfg.Database.SyncWrites,
		Graph: graph.Options{
			BlockCapacity: cfg.Graph.BlockCapacity,
			MaxNodes:      cfg.Graph.MaxNodes,
			MaxEdges:      cfg.Graph.MaxEdges,
		},
		CheckpointInterval: cfg.Checkpoint.Interval,
		CheckpointOnClose:  cfg.Checkpoint.OnClose,
	})
}

// autoCheckpoint saves the graph every interval until Close. A failed save
// is retried on the next tick; LastCheckpoint shows whether one landed.
func (db *DB) autoCheckpoint(interval time.Duration) {
	defer db.autoDone.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-db.stopAuto:
			return
		case <-ticker.C:
			db.Checkpoint(context.Background())
		}
	}
}

// Graph returns the current live graph. The pointer is replaced wholesale on
// Reload; callers that cache it keep reading a consistent but stale graph.
func (db *DB) Graph() *graph.Graph {
	return db.current.Load()
}

// Checkpoint serializes the live graph and saves the image under the
// database's name. Mutations are held off for the duration so the image is
// one consistent point in time. A canceled context discards the image
// without saving; the previously saved image is untouched either way until
// the new one fully replaces it.
func (db *DB) Checkpoint(ctx context.Context) error {
	db.swapMu.Lock()
	defer db.swapMu.Unlock()
	_, err := db.checkpointLocked(ctx)
	return err
}

func (db *DB) checkpointLocked(ctx context.Context) ([]byte, error) {
	if db.isClosed() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	image, err := snapshot.Checkpoint(db.current.Load())
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := db.images.Save(db.name, image); err != nil {
		return nil, err
	}
	db.lastCheckpoint.Store(time.Now().UnixNano())
	return image, nil
}

// LastCheckpoint returns the time of the last successful checkpoint save,
// or the zero time if none has landed yet.
func (db *DB) LastCheckpoint() time.Time {
	ns := db.lastCheckpoint.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Reload checkpoints the live graph, decodes the image into a fresh graph,
// and atomically swaps it in. Afterwards every read is served from state
// that survived a full serialize/deserialize round trip. On any failure the
// live graph keeps serving unchanged.
func (db *DB) Reload(ctx context.Context) error {
	db.swapMu.Lock()
	defer db.swapMu.Unlock()

	image, err := db.checkpointLocked(ctx)
	if err != nil {
		return err
	}
	restored, err := snapshot.Restore(image, db.gopts)
	if err != nil {
		return fmt.Errorf("skald: reload %q: %w", db.name, err)
	}
	db.current.Store(restored)
	return nil
}

// Explain plans q against the current graph without running it.
func (db *DB) Explain(q plan.Query) *plan.Plan {
	return plan.Build(db.current.Load(), q)
}

// Query plans and runs q, returning the matching node identifiers.
func (db *DB) Query(q plan.Query) []graph.NodeID {
	g := db.current.Load()
	return plan.Build(g, q).Run(g)
}

// Close stops the automatic checkpointer, optionally checkpoints once more
// (Options.CheckpointOnClose), and releases the keyspace. The in-memory
// graph is dropped. Safe to call twice.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		if db.stopAuto != nil {
			close(db.stopAuto)
			db.autoDone.Wait()
		}
		if db.checkpointOnClose {
			db.closeErr = db.Checkpoint(context.Background())
		}
		db.closed.Store(true)
		if err := db.images.Close(); err != nil && db.closeErr == nil {
			db.closeErr = err
		}
	})
	return db.closeErr
}

func (db *DB) isClosed() bool {
	return db.closed.Load()
}

// Mutations delegate to the live graph under the shared half of swapMu, so
// they never interleave with a checkpoint or reload in progress.

// AddNode creates a node. See graph.Graph.AddNode.
func (db *DB) AddNode(labels []string, properties map[string]any) (graph.NodeID, error) {
	db.swapMu.RLock()
	defer db.swapMu.RUnlock()
	return db.current.Load().AddNode(labels, properties)
}

// AddEdge creates an edge between existing nodes. See graph.Graph.AddEdge.
func (db *DB) AddEdge(src, dst graph.NodeID, relType string, properties map[string]any) (graph.EdgeID, error) {
	db.swapMu.RLock()
	defer db.swapMu.RUnlock()
	return db.current.Load().AddEdge(src, dst, relType, properties)
}

// DeleteNode tombstones a node and cascades to its edges.
func (db *DB) DeleteNode(id graph.NodeID) error {
	db.swapMu.RLock()
	defer db.swapMu.RUnlock()
	return db.current.Load().DeleteNode(id)
}

// DeleteEdge tombstones an edge.
func (db *DB) DeleteEdge(id graph.EdgeID) error {
	db.swapMu.RLock()
	defer db.swapMu.RUnlock()
	return db.current.Load().DeleteEdge(id)
}

// SetNodeProperty sets one property on a node, keeping indexes in step.
func (db *DB) SetNodeProperty(id graph.NodeID, name string, value any) error {
	db.swapMu.RLock()
	defer db.swapMu.RUnlock()
	return db.current.Load().SetNodeProperty(id, name, value)
}

// RemoveNodeProperty removes one property from a node.
func (db *DB) RemoveNodeProperty(id graph.NodeID, name string) error {
	db.swapMu.RLock()
	defer db.swapMu.RUnlock()
	return db.current.Load().RemoveNodeProperty(id, name)
}

// SetEdgeProperty sets one property on an edge.
func (db *DB) SetEdgeProperty(id graph.EdgeID, name string, value any) error {
	db.swapMu.RLock()
	defer db.swapMu.RUnlock()
	return db.current.Load().SetEdgeProperty(id, name, value)
}

// CreateIndex registers and populates a (label, property) index.
func (db *DB) CreateIndex(label, property string) {
	db.swapMu.RLock()
	defer db.swapMu.RUnlock()
	db.current.Load().CreateIndex(label, property)
}

// Reads go straight to the current graph; the graph's own read lock gives
// each call a consistent view.

// GetNode returns a copy of a live node.
func (db *DB) GetNode(id graph.NodeID) (graph.Node, error) {
	return db.current.Load().GetNode(id)
}

// GetEdge returns a copy of a live edge.
func (db *DB) GetEdge(id graph.EdgeID) (graph.Edge, error) {
	return db.current.Load().GetEdge(id)
}

// NodeCount returns the number of live nodes with label, or all live nodes
// when label is empty.
func (db *DB) NodeCount(label string) uint64 {
	return db.current.Load().NodeCount(label)
}

// EdgeCount returns the number of live edges with relType, or all live
// edges when relType is empty.
func (db *DB) EdgeCount(relType string) uint64 {
	return db.current.Load().EdgeCount(relType)
}

// NodeProperty returns one property of a live node.
func (db *DB) NodeProperty(id graph.NodeID, name string) (props.Value, bool, error) {
	return db.current.Load().NodeProperty(id, name)
}

// EdgeProperty returns one property of a live edge.
func (db *DB) EdgeProperty(id graph.EdgeID, name string) (props.Value, bool, error) {
	return db.current.Load().EdgeProperty(id, name)
}

// IndexExists reports whether an index covers (label, property).
func (db *DB) IndexExists(label, property string) bool {
	return db.current.Load().IndexExists(label, property)
}

// IndexLookup answers a point lookup through an index.
func (db *DB) IndexLookup(label, property string, value any) []graph.NodeID {
	return db.current.Load().IndexLookup(label, property, value)
}

// IndexDefinitions returns every registered index in creation order.
func (db *DB) IndexDefinitions() []index.Definition {
	return db.current.Load().IndexDefinitions()
}
