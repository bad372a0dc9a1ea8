package datablock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Allocate(t *testing.T) {
	t.Run("allocates_sequential_ids", func(t *testing.T) {
		s := New(Options{Capacity: 4})
		for i := 0; i < 10; i++ {
			id, err := s.Allocate()
			require.NoError(t, err)
			assert.Equal(t, SlotID(i), id)
		}
		assert.Equal(t, uint64(10), s.Len())
		assert.Equal(t, uint64(12), s.Cap()) // 3 blocks of 4
	})

	t.Run("grows_across_block_boundaries", func(t *testing.T) {
		s := New(Options{Capacity: 2})
		for i := 0; i < 5; i++ {
			_, err := s.Allocate()
			require.NoError(t, err)
		}
		require.NoError(t, s.Set(SlotID(4), "e"))
		rec, err := s.Get(SlotID(4))
		require.NoError(t, err)
		assert.Equal(t, "e", rec)
	})

	t.Run("reuses_last_freed_slot_first", func(t *testing.T) {
		s := New(Options{Capacity: 4})
		for i := 0; i < 4; i++ {
			_, err := s.Allocate()
			require.NoError(t, err)
		}
		require.NoError(t, s.Free(SlotID(1)))
		require.NoError(t, s.Free(SlotID(3)))

		id, err := s.Allocate()
		require.NoError(t, err)
		assert.Equal(t, SlotID(3), id, "LIFO reuse")

		id, err = s.Allocate()
		require.NoError(t, err)
		assert.Equal(t, SlotID(1), id)

		id, err = s.Allocate()
		require.NoError(t, err)
		assert.Equal(t, SlotID(4), id, "free list exhausted, arena grows")
	})

	t.Run("respects_hard_capacity", func(t *testing.T) {
		s := New(Options{Capacity: 2, MaxSlots: 3})
		for i := 0; i < 3; i++ {
			_, err := s.Allocate()
			require.NoError(t, err)
		}
		_, err := s.Allocate()
		assert.ErrorIs(t, err, ErrCapacityExceeded)

		// Freeing makes room again.
		require.NoError(t, s.Free(SlotID(0)))
		id, err := s.Allocate()
		require.NoError(t, err)
		assert.Equal(t, SlotID(0), id)
	})
}

func TestStore_Free(t *testing.T) {
	t.Run("tombstoned_slot_is_not_found", func(t *testing.T) {
		s := New(Options{Capacity: 4})
		id, _ := s.Allocate()
		require.NoError(t, s.Set(id, "x"))
		require.NoError(t, s.Free(id))

		_, err := s.Get(id)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.False(t, s.Contains(id))
		assert.Equal(t, uint64(0), s.Len())
	})

	t.Run("double_free_is_rejected", func(t *testing.T) {
		s := New(Options{Capacity: 4})
		id, _ := s.Allocate()
		require.NoError(t, s.Free(id))
		assert.ErrorIs(t, s.Free(id), ErrAlreadyDeleted)

		// The free list must not contain the slot twice.
		a, err := s.Allocate()
		require.NoError(t, err)
		assert.Equal(t, id, a)
		b, err := s.Allocate()
		require.NoError(t, err)
		assert.NotEqual(t, id, b)
	})

	t.Run("freeing_unallocated_slot_is_not_found", func(t *testing.T) {
		s := New(Options{Capacity: 4})
		assert.ErrorIs(t, s.Free(SlotID(7)), ErrNotFound)
	})

	t.Run("reused_slot_never_shows_stale_data", func(t *testing.T) {
		s := New(Options{Capacity: 4})
		id, _ := s.Allocate()
		require.NoError(t, s.Set(id, "old"))
		require.NoError(t, s.Free(id))

		again, err := s.Allocate()
		require.NoError(t, err)
		require.Equal(t, id, again)

		rec, err := s.Get(again)
		require.NoError(t, err)
		assert.Nil(t, rec, "reallocated slot starts empty")
	})
}

func TestStore_Iterate(t *testing.T) {
	t.Run("skips_tombstones", func(t *testing.T) {
		s := New(Options{Capacity: 2})
		for i := 0; i < 6; i++ {
			id, _ := s.Allocate()
			require.NoError(t, s.Set(id, i))
		}
		require.NoError(t, s.Free(SlotID(1)))
		require.NoError(t, s.Free(SlotID(4)))

		var seen []SlotID
		s.Iterate(func(id SlotID, rec any) bool {
			seen = append(seen, id)
			return true
		})
		assert.Equal(t, []SlotID{0, 2, 3, 5}, seen)
		assert.Equal(t, seen, s.IDs())
	})

	t.Run("is_restartable", func(t *testing.T) {
		s := New(Options{Capacity: 4})
		for i := 0; i < 3; i++ {
			_, err := s.Allocate()
			require.NoError(t, err)
		}
		first, second := 0, 0
		s.Iterate(func(SlotID, any) bool { first++; return true })
		s.Iterate(func(SlotID, any) bool { second++; return true })
		assert.Equal(t, first, second)
	})

	t.Run("stops_early", func(t *testing.T) {
		s := New(Options{Capacity: 4})
		for i := 0; i < 4; i++ {
			_, err := s.Allocate()
			require.NoError(t, err)
		}
		n := 0
		s.Iterate(func(SlotID, any) bool { n++; return n < 2 })
		assert.Equal(t, 2, n)
	})
}

func TestStore_Restore(t *testing.T) {
	t.Run("reproduces_occupancy_and_reuse_order", func(t *testing.T) {
		orig := New(Options{Capacity: 2})
		for i := 0; i < 5; i++ {
			_, err := orig.Allocate()
			require.NoError(t, err)
		}
		require.NoError(t, orig.Free(SlotID(1)))
		require.NoError(t, orig.Free(SlotID(3)))

		restored := New(Options{Capacity: 2})
		require.NoError(t, restored.Restore(orig.HighWater(), orig.FreeList()))

		assert.Equal(t, orig.Len(), restored.Len())
		assert.Equal(t, orig.IDs(), restored.IDs())

		// Next allocation order matches the original arena.
		a, _ := orig.Allocate()
		b, _ := restored.Allocate()
		assert.Equal(t, a, b)
	})

	t.Run("rejects_non_empty_store", func(t *testing.T) {
		s := New(Options{Capacity: 2})
		_, err := s.Allocate()
		require.NoError(t, err)
		assert.Error(t, s.Restore(3, nil))
	})

	t.Run("rejects_out_of_range_free_entries", func(t *testing.T) {
		s := New(Options{Capacity: 2})
		assert.ErrorIs(t, s.Restore(2, []SlotID{5}), ErrNotFound)
	})

	t.Run("rejects_duplicate_free_entries", func(t *testing.T) {
		s := New(Options{Capacity: 2})
		assert.ErrorIs(t, s.Restore(2, []SlotID{1, 1}), ErrAlreadyDeleted)
	})
}
