// Package snapshot implements SKALD's durable image codec.
//
// A durable image is a self-describing byte sequence from which a full graph
// can be reconstructed: header (magic, format version, block capacity),
// attribute intern table, node arena (high-water mark, free-list order, and
// every live record), edge arena, and the registered index definitions,
// followed by a BLAKE2b-256 checksum over everything before it.
//
// Tombstone state is stored explicitly - the free lists go into the image in
// stack order - so a restored graph has identical slot occupancy: the same
// identifiers live, the same identifiers free, and the same reuse order for
// future allocations. Index contents are NOT stored; they are rebuilt from
// the decoded entities by replaying CreateIndex per stored definition, which
// keeps entity state as the single source of truth in the image.
//
// Restore is all-or-nothing. Decode builds a fresh, isolated graph and
// returns it only on full success; a malformed, truncated, or structurally
// inconsistent image fails with ErrCorruptImage (or ErrUnsupportedVersion
// for a format mismatch) without any partially built state escaping.
//
// Example Usage:
//
//	image, err := snapshot.Checkpoint(g)
//	if err != nil { ... }
//	// persist image bytes (see pkg/keyspace)
//
//	restored, err := snapshot.Restore(image, graph.Options{})
//	if errors.Is(err, snapshot.ErrCorruptImage) {
//		// the live graph is untouched; keep serving from it
//	}
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"golang.org/x/crypto/blake2b"

	"github.com/skaldb/skald/pkg/datablock"
	"github.com/skaldb/skald/pkg/graph"
	"github.com/skaldb/skald/pkg/props"
)

// Format constants. Version is bumped on any incompatible layout change;
// Restore rejects images written by a different version rather than
// misinterpreting bytes.
const (
	Version uint16 = 1

	checksumSize = blake2b.Size256

	// maxStringLen bounds decoded string lengths so a corrupt length field
	// fails cleanly instead of attempting a huge allocation.
	maxStringLen = 1 << 26
)

var magic = [4]byte{'S', 'K', 'L', 'D'}

// Codec errors.
var (
	ErrCorruptImage       = errors.New("snapshot: corrupt image")
	ErrUnsupportedVersion = errors.New("snapshot: unsupported image version")
)

// Checkpoint serializes the graph into a durable image. It is a pure
// read-only traversal; the live graph is never mutated, so a discarded
// image costs nothing.
//
// The traversal shares the graph's read lock with other readers, but the
// caller must order it with respect to mutations so the image reflects one
// consistent point in time; pkg/skald's DB does exactly that.
func Checkpoint(g *graph.Graph) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes the durable image to w.
func Encode(w io.Writer, g *graph.Graph) error {
	hash, err := blake2b.New256(nil)
	if err != nil {
		return err
	}
	enc := &encoder{w: io.MultiWriter(w, hash)}

	enc.bytes(magic[:])
	enc.u16(Version)
	enc.u64(g.BlockCapacity())

	// Attribute intern table, in ID order.
	names := g.AttrNames()
	enc.u32(uint32(len(names)))
	for _, n := range names {
		enc.str(n)
	}

	// Node arena: occupancy first, then live records in slot order.
	nodeHW, nodeFree := g.NodeArena()
	enc.u64(uint64(nodeHW))
	enc.u64(uint64(len(nodeFree)))
	for _, s := range nodeFree {
		enc.u64(uint64(s))
	}
	enc.u64(uint64(nodeHW) - uint64(len(nodeFree))) // live count
	g.VisitNodes(func(id graph.NodeID, labels []string, attrs props.Map) bool {
		enc.u64(uint64(id))
		enc.count16(len(labels), "labels")
		for _, l := range labels {
			enc.str(l)
		}
		enc.propMap(attrs)
		return enc.err == nil
	})

	// Edge arena.
	edgeHW, edgeFree := g.EdgeArena()
	enc.u64(uint64(edgeHW))
	enc.u64(uint64(len(edgeFree)))
	for _, s := range edgeFree {
		enc.u64(uint64(s))
	}
	enc.u64(uint64(edgeHW) - uint64(len(edgeFree)))
	g.VisitEdges(func(id graph.EdgeID, src, dst graph.NodeID, relType string, attrs props.Map) bool {
		enc.u64(uint64(id))
		enc.u64(uint64(src))
		enc.u64(uint64(dst))
		enc.str(relType)
		enc.propMap(attrs)
		return enc.err == nil
	})

	// Index definitions only; contents are rebuilt on load.
	defs := g.IndexDefinitions()
	enc.u32(uint32(len(defs)))
	for _, d := range defs {
		enc.str(d.Label)
		enc.str(d.Property)
	}

	if enc.err != nil {
		return enc.err
	}
	// Checksum trailer goes to w only, not through the hash.
	_, err = w.Write(hash.Sum(nil))
	return err
}

// Restore decodes a durable image into a fresh graph. opts.BlockCapacity is
// overridden by the capacity stored in the image so slot arithmetic matches
// the writer.
func Restore(image []byte, opts graph.Options) (*graph.Graph, error) {
	if len(image) < len(magic)+2+checksumSize {
		return nil, fmt.Errorf("%w: truncated", ErrCorruptImage)
	}
	body, trailer := image[:len(image)-checksumSize], image[len(image)-checksumSize:]
	sum := blake2b.Sum256(body)
	if !bytes.Equal(sum[:], trailer) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptImage)
	}
	return Decode(bytes.NewReader(body), opts)
}

// Decode parses an image body (without verifying the checksum trailer; use
// Restore for the full validation path) and builds the graph.
func Decode(r io.Reader, opts graph.Options) (*graph.Graph, error) {
	dec := &decoder{r: r}

	var m [4]byte
	dec.bytes(m[:])
	if dec.err == nil && m != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptImage)
	}
	version := dec.u16()
	if dec.err == nil && version != Version {
		return nil, fmt.Errorf("%w: image version %d, engine version %d", ErrUnsupportedVersion, version, Version)
	}
	opts.BlockCapacity = dec.u64()

	attrCount := dec.u32()
	attrNames := make([]string, 0, min(int(attrCount), 1<<16))
	for i := uint32(0); i < attrCount && dec.err == nil; i++ {
		attrNames = append(attrNames, dec.str())
	}

	nodeHW, nodeFree := dec.arena()
	nodeLive := dec.u64()

	if dec.err != nil {
		return nil, corrupt(dec.err)
	}
	if nodeLive != uint64(nodeHW)-uint64(len(nodeFree)) {
		return nil, fmt.Errorf("%w: node count disagrees with arena shape", ErrCorruptImage)
	}

	// The graph can only be constructed once both arena shapes are known,
	// and the edge arena header comes after the node records in the
	// stream, so node records are staged first.
	type stagedNode struct {
		id     graph.NodeID
		labels []string
		attrs  props.Map
	}
	nodes := make([]stagedNode, 0, min(int(nodeLive), 1<<20))
	for i := uint64(0); i < nodeLive && dec.err == nil; i++ {
		n := stagedNode{id: graph.NodeID(dec.u64())}
		labelCount := dec.u16()
		for j := uint16(0); j < labelCount && dec.err == nil; j++ {
			n.labels = append(n.labels, dec.str())
		}
		n.attrs = dec.propMap(len(attrNames))
		nodes = append(nodes, n)
	}

	edgeHW, edgeFree := dec.arena()
	edgeLive := dec.u64()
	if dec.err != nil {
		return nil, corrupt(dec.err)
	}
	if edgeLive != uint64(edgeHW)-uint64(len(edgeFree)) {
		return nil, fmt.Errorf("%w: edge count disagrees with arena shape", ErrCorruptImage)
	}

	g, err := graph.NewFromImage(opts, attrNames, nodeHW, nodeFree, edgeHW, edgeFree)
	if err != nil {
		return nil, corrupt(err)
	}
	for _, n := range nodes {
		if err := g.InstallNode(n.id, n.labels, n.attrs); err != nil {
			return nil, corrupt(err)
		}
	}

	for i := uint64(0); i < edgeLive; i++ {
		id := graph.EdgeID(dec.u64())
		src := graph.NodeID(dec.u64())
		dst := graph.NodeID(dec.u64())
		relType := dec.str()
		attrs := dec.propMap(len(attrNames))
		if dec.err != nil {
			return nil, corrupt(dec.err)
		}
		if err := g.InstallEdge(id, src, dst, relType, attrs); err != nil {
			return nil, corrupt(err)
		}
	}

	defCount := dec.u32()
	for i := uint32(0); i < defCount; i++ {
		label := dec.str()
		property := dec.str()
		if dec.err != nil {
			return nil, corrupt(dec.err)
		}
		g.CreateIndex(label, property)
	}

	if dec.err != nil {
		return nil, corrupt(dec.err)
	}
	// Trailing garbage means the image was not produced by this codec.
	var one [1]byte
	if n, _ := dec.r.Read(one[:]); n != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", ErrCorruptImage)
	}
	return g, nil
}

func corrupt(err error) error {
	if errors.Is(err, ErrCorruptImage) || errors.Is(err, ErrUnsupportedVersion) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCorruptImage, err)
}

// encoder writes little-endian primitives, capturing the first error.
type encoder struct {
	w   io.Writer
	err error
}

func (e *encoder) bytes(b []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(b)
}

func (e *encoder) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.bytes(b[:])
}

// count16 writes a length that the format stores in 16 bits, failing the
// encode instead of silently truncating an oversized entity.
func (e *encoder) count16(n int, what string) {
	if n > math.MaxUint16 {
		if e.err == nil {
			e.err = fmt.Errorf("snapshot: %d %s exceed the image field width", n, what)
		}
		return
	}
	e.u16(uint16(n))
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.bytes(b[:])
}

func (e *encoder) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.bytes(b[:])
}

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.bytes([]byte(s))
}

func (e *encoder) value(v props.Value) {
	e.bytes([]byte{byte(v.Kind())})
	switch v.Kind() {
	case props.KindBool:
		if v.Bool() {
			e.bytes([]byte{1})
		} else {
			e.bytes([]byte{0})
		}
	case props.KindInt:
		e.u64(uint64(v.Int()))
	case props.KindFloat:
		e.u64(math.Float64bits(v.Float()))
	case props.KindString:
		e.str(v.Str())
	}
}

func (e *encoder) propMap(m props.Map) {
	e.count16(len(m), "properties")
	if e.err != nil {
		return
	}
	// Deterministic images: emit attributes in ID order.
	ids := make([]props.AttrID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	for _, id := range ids {
		v, _ := m.Get(id)
		e.u32(uint32(id))
		e.value(v)
	}
}

// decoder reads little-endian primitives, capturing the first error.
type decoder struct {
	r   io.Reader
	err error
}

func (d *decoder) bytes(b []byte) {
	if d.err != nil {
		return
	}
	_, d.err = io.ReadFull(d.r, b)
}

func (d *decoder) u16() uint16 {
	var b [2]byte
	d.bytes(b[:])
	return binary.LittleEndian.Uint16(b[:])
}

func (d *decoder) u32() uint32 {
	var b [4]byte
	d.bytes(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func (d *decoder) u64() uint64 {
	var b [8]byte
	d.bytes(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

func (d *decoder) str() string {
	n := d.u32()
	if d.err != nil {
		return ""
	}
	if n > maxStringLen {
		d.err = fmt.Errorf("string length %d exceeds limit", n)
		return ""
	}
	b := make([]byte, n)
	d.bytes(b)
	return string(b)
}

func (d *decoder) value() props.Value {
	var kind [1]byte
	d.bytes(kind[:])
	if d.err != nil {
		return props.Value{}
	}
	switch props.Kind(kind[0]) {
	case props.KindNull:
		return props.NullValue()
	case props.KindBool:
		var b [1]byte
		d.bytes(b[:])
		return props.BoolValue(b[0] != 0)
	case props.KindInt:
		return props.IntValue(int64(d.u64()))
	case props.KindFloat:
		return props.FloatValue(math.Float64frombits(d.u64()))
	case props.KindString:
		return props.StringValue(d.str())
	default:
		d.err = fmt.Errorf("unknown value kind %d", kind[0])
		return props.Value{}
	}
}

func (d *decoder) propMap(attrTableLen int) props.Map {
	n := d.u16()
	m := props.Map{}
	for i := uint16(0); i < n && d.err == nil; i++ {
		id := props.AttrID(d.u32())
		v := d.value()
		if int(id) >= attrTableLen {
			d.err = fmt.Errorf("attribute id %d outside intern table", id)
			return nil
		}
		m.Set(id, v)
	}
	return m
}

func (d *decoder) arena() (datablock.SlotID, []datablock.SlotID) {
	hw := datablock.SlotID(d.u64())
	n := d.u64()
	if d.err != nil {
		return 0, nil
	}
	if n > uint64(hw) {
		d.err = fmt.Errorf("free list longer than arena")
		return 0, nil
	}
	free := make([]datablock.SlotID, 0, n)
	for i := uint64(0); i < n && d.err == nil; i++ {
		free = append(free, datablock.SlotID(d.u64()))
	}
	return hw, free
}
