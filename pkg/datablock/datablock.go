// Package datablock implements the slot arena underlying SKALD's graph storage.
//
// A Store is a growable chain of fixed-capacity blocks. Each block holds up
// to Capacity records; records are addressed by a stable SlotID and are never
// relocated while the store is live. Deletion tombstones a slot instead of
// shifting survivors, because external identifiers and index postings refer
// to slots by position. Tombstoned slots are pushed onto a free list and
// handed out again last-deleted-first on the next allocation.
//
// Example Usage:
//
//	store := datablock.New(datablock.Options{Capacity: 16384})
//
//	id := store.Allocate()
//	store.Set(id, myRecord)
//
//	rec, err := store.Get(id)
//	if err != nil {
//		// errors.Is(err, datablock.ErrNotFound)
//	}
//
//	// Tombstone the slot; the record is gone, the slot is reusable.
//	store.Free(id)
//
//	// Live records only, holes are skipped.
//	store.Iterate(func(id datablock.SlotID, rec any) bool {
//		fmt.Println(id, rec)
//		return true
//	})
//
// ELI12:
//
// Think of the store as an egg carton that grows a new row whenever it fills
// up. Every egg cup has a number painted on it, and the number never changes.
// When you eat an egg you don't slide the others over - you just mark that
// cup "empty" and remember it, so the next egg you buy goes into the most
// recently emptied cup. Counting your eggs means counting full cups, not
// cups.
//
// Thread Safety:
//
//	Store is NOT internally synchronized. The graph layer owns a single
//	write lock covering every arena and index it manages; pushing another
//	mutex down here would only hide ordering bugs.
package datablock

import "errors"

// Common errors returned by Store operations.
var (
	ErrNotFound         = errors.New("datablock: slot not found")
	ErrAlreadyDeleted   = errors.New("datablock: slot already deleted")
	ErrCapacityExceeded = errors.New("datablock: capacity exceeded")
)

// SlotID is a stable, dense, reusable identifier for a record in a Store.
//
// A SlotID is logically a (block, offset) pair: block = id / Capacity,
// offset = id % Capacity. It stays valid until the slot is freed, and may be
// handed out again afterwards for a different record.
type SlotID uint64

// DefaultBlockCapacity is the number of slots per block when Options.Capacity
// is zero. Matches the block sizing of the original datablock design: large
// enough that block-chain traversal is negligible, small enough that a mostly
// deleted graph doesn't pin much memory.
const DefaultBlockCapacity = 16384

// Options configures a Store.
type Options struct {
	// Capacity is the number of slots per block. Zero means
	// DefaultBlockCapacity. Tests use small values to exercise block
	// boundaries.
	Capacity uint64

	// MaxSlots, when non-zero, is a hard cap on total slots. Allocate
	// returns ErrCapacityExceeded once every slot below the cap is live.
	MaxSlots uint64
}

// block is one fixed-capacity region of slots.
//
// deleted marks tombstoned offsets. A slot is live iff its offset is below
// the store's high-water mark, it belongs to this block, and it is not
// tombstoned.
type block struct {
	records []any
	deleted []bool
}

// Store is a growable arena of fixed-size slots with tombstone bookkeeping.
//
// Invariants:
//   - A SlotID resolves to at most one live record at a time.
//   - Freed slots never present stale data on re-read.
//   - Len() is the logical count: allocated slots minus tombstoned slots.
//   - The free list is LIFO: the most recently freed slot is reused first.
type Store struct {
	capacity uint64
	maxSlots uint64
	blocks   []*block

	// next is the high-water mark: the lowest SlotID never yet allocated.
	next SlotID

	// freeList holds tombstoned slots available for reuse, most recent last.
	freeList []SlotID

	// live is the logical count.
	live uint64
}

// New creates an empty Store.
func New(opts Options) *Store {
	cap := opts.Capacity
	if cap == 0 {
		cap = DefaultBlockCapacity
	}
	return &Store{
		capacity: cap,
		maxSlots: opts.MaxSlots,
	}
}

// Allocate returns a free slot, reusing the most recently tombstoned slot if
// one exists, otherwise extending the arena (growing the block chain when the
// last block is full).
//
// Returns ErrCapacityExceeded only when MaxSlots is configured and every slot
// below the cap is live.
//
// The returned slot holds a nil record until Set is called.
func (s *Store) Allocate() (SlotID, error) {
	if n := len(s.freeList); n > 0 {
		id := s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		b, off := s.locate(id)
		b.deleted[off] = false
		b.records[off] = nil
		s.live++
		return id, nil
	}

	if s.maxSlots > 0 && uint64(s.next) >= s.maxSlots {
		return 0, ErrCapacityExceeded
	}

	id := s.next
	blockIdx := uint64(id) / s.capacity
	if blockIdx == uint64(len(s.blocks)) {
		s.blocks = append(s.blocks, &block{
			records: make([]any, s.capacity),
			deleted: make([]bool, s.capacity),
		})
	}
	s.next++
	s.live++
	return id, nil
}

// Set stores a record in a live slot.
func (s *Store) Set(id SlotID, record any) error {
	b, off, err := s.resolve(id)
	if err != nil {
		return err
	}
	b.records[off] = record
	return nil
}

// Get returns the record in a live slot.
//
// Returns ErrNotFound when the slot was never allocated or is currently
// tombstoned. A freed slot stays ErrNotFound until it is reallocated, and
// after reallocation it only ever returns the new occupant.
func (s *Store) Get(id SlotID) (any, error) {
	b, off, err := s.resolve(id)
	if err != nil {
		return nil, err
	}
	return b.records[off], nil
}

// Contains reports whether id resolves to a live slot.
func (s *Store) Contains(id SlotID) bool {
	_, _, err := s.resolve(id)
	return err == nil
}

// Free tombstones a live slot and pushes it onto the free list. The record is
// dropped immediately so a dangling Get cannot observe stale data.
//
// Freeing an already tombstoned slot returns ErrAlreadyDeleted and leaves the
// free list untouched; a double free must not produce a slot that gets handed
// out twice.
func (s *Store) Free(id SlotID) error {
	if id >= s.next {
		return ErrNotFound
	}
	b, off := s.locate(id)
	if b.deleted[off] {
		return ErrAlreadyDeleted
	}
	b.deleted[off] = true
	b.records[off] = nil
	s.freeList = append(s.freeList, id)
	s.live--
	return nil
}

// Len returns the logical count: slots allocated minus slots tombstoned.
// Count queries must always go through Len, never Cap.
func (s *Store) Len() uint64 {
	return s.live
}

// Cap returns the raw slot capacity currently backed by blocks.
func (s *Store) Cap() uint64 {
	return uint64(len(s.blocks)) * s.capacity
}

// HighWater returns the lowest SlotID never yet allocated. Every live slot is
// strictly below it.
func (s *Store) HighWater() SlotID {
	return s.next
}

// BlockCapacity returns the configured slots-per-block.
func (s *Store) BlockCapacity() uint64 {
	return s.capacity
}

// Iterate calls fn for every live record in ascending slot order, skipping
// tombstoned slots. Iteration stops early when fn returns false.
//
// The sequence is finite and restartable. It is not required to be stable
// across interleaved mutation; the caller holds the single-writer lock.
func (s *Store) Iterate(fn func(id SlotID, record any) bool) {
	for id := SlotID(0); id < s.next; id++ {
		b, off := s.locate(id)
		if b.deleted[off] {
			continue
		}
		if !fn(id, b.records[off]) {
			return
		}
	}
}

// IDs returns the SlotIDs of all live records in ascending order.
func (s *Store) IDs() []SlotID {
	ids := make([]SlotID, 0, s.live)
	s.Iterate(func(id SlotID, _ any) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// FreeList returns a copy of the free list in stack order: the slot at the
// end is the next to be reused. The persistence codec stores this verbatim so
// a restored arena reuses slots in the same order the original would have.
func (s *Store) FreeList() []SlotID {
	out := make([]SlotID, len(s.freeList))
	copy(out, s.freeList)
	return out
}

// Restore rebuilds arena shape from a durable image: high-water mark, the
// tombstone set (as the free list, stack order preserved), and nothing else.
// Records are reattached by the caller via Set.
//
// Restore is only valid on an empty store.
func (s *Store) Restore(highWater SlotID, freeList []SlotID) error {
	if s.next != 0 {
		return errors.New("datablock: restore into non-empty store")
	}
	if s.maxSlots > 0 && uint64(highWater) > s.maxSlots {
		return ErrCapacityExceeded
	}
	blocks := (uint64(highWater) + s.capacity - 1) / s.capacity
	for i := uint64(0); i < blocks; i++ {
		s.blocks = append(s.blocks, &block{
			records: make([]any, s.capacity),
			deleted: make([]bool, s.capacity),
		})
	}
	s.next = highWater
	s.live = uint64(highWater)
	for _, id := range freeList {
		if id >= highWater {
			return ErrNotFound
		}
		b, off := s.locate(id)
		if b.deleted[off] {
			return ErrAlreadyDeleted
		}
		b.deleted[off] = true
		s.freeList = append(s.freeList, id)
		s.live--
	}
	return nil
}

// locate maps a SlotID below the high-water mark to its block and offset.
func (s *Store) locate(id SlotID) (*block, uint64) {
	return s.blocks[uint64(id)/s.capacity], uint64(id) % s.capacity
}

// resolve locates a slot and verifies it is live.
func (s *Store) resolve(id SlotID) (*block, uint64, error) {
	if id >= s.next {
		return nil, 0, ErrNotFound
	}
	b, off := s.locate(id)
	if b.deleted[off] {
		return nil, 0, ErrNotFound
	}
	return b, off, nil
}
