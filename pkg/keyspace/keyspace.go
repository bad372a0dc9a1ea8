// Package keyspace stores named durable images in BadgerDB.
//
// The graph engine itself is in-memory; durability comes from serializing a
// graph into an image (pkg/snapshot) and handing the bytes to a keyspace
// under a name. The keyspace is deliberately dumb: it never inspects image
// bytes, it just gives each name an atomic save/load/delete lifecycle backed
// by Badger's transactions, plus a small metadata record (save time, size)
// for inspection tooling.
//
// Example:
//
//	ks, err := keyspace.Open(keyspace.Options{Dir: "./data/skald"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ks.Close()
//
//	if err := ks.Save("social", image); err != nil { ... }
//	image, err := ks.Load("social")
package keyspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Single-byte key prefixes.
const (
	prefixImage = byte(0x01) // image:name -> raw image bytes
	prefixMeta  = byte(0x02) // meta:name  -> JSON(Meta)
)

// ErrNotFound means no image is stored under the requested name.
var ErrNotFound = errors.New("keyspace: image not found")

// Options configures the keyspace.
type Options struct {
	// Dir is the directory for Badger's data files. Required unless
	// InMemory is set.
	Dir string

	// InMemory keeps everything in RAM. Useful for tests; data is lost
	// on Close.
	InMemory bool

	// SyncWrites forces fsync after each save. Slower but an acknowledged
	// Save survives power loss.
	SyncWrites bool
}

// Meta describes a stored image without loading its bytes.
type Meta struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	SavedAt time.Time `json:"saved_at"`
}

// Store is a named-image keyspace over a single BadgerDB instance.
// Safe for concurrent use.
type Store struct {
	db *badger.DB

	mu     sync.Mutex
	closed bool
}

// Open opens (creating if necessary) a keyspace in opts.Dir.
func Open(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Dir).
		WithLogger(nil)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	// Images are a handful of large values, not millions of small ones;
	// shrink Badger's buffers accordingly.
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithValueThreshold(1024).
		WithBlockCacheSize(32 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("keyspace: open: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a RAM-only keyspace for testing.
func OpenInMemory() (*Store, error) {
	return Open(Options{InMemory: true})
}

// Save stores image under name, replacing any previous image atomically:
// a concurrent Load sees either the old image or the new one, never a mix.
func (s *Store) Save(name string, image []byte) error {
	meta, err := json.Marshal(Meta{
		Name:    name,
		Size:    int64(len(image)),
		SavedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(imageKey(name), image); err != nil {
			return err
		}
		return txn.Set(metaKey(name), meta)
	})
}

// Load returns the image stored under name, or ErrNotFound.
func (s *Store) Load(name string) ([]byte, error) {
	var image []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(imageKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		if err != nil {
			return err
		}
		image, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return image, nil
}

// Stat returns the metadata record for name, or ErrNotFound.
func (s *Store) Stat(name string) (Meta, error) {
	var meta Meta
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	return meta, err
}

// Delete removes the image stored under name. Deleting an absent name
// returns ErrNotFound so callers can distinguish it from a real removal.
func (s *Store) Delete(name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(imageKey(name)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %q", ErrNotFound, name)
		} else if err != nil {
			return err
		}
		if err := txn.Delete(imageKey(name)); err != nil {
			return err
		}
		return txn.Delete(metaKey(name))
	})
}

// List returns the stored image names in lexicographic order.
func (s *Store) List() ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefixImage}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			names = append(names, string(key[1:]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Close flushes and closes the underlying database. Safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func imageKey(name string) []byte {
	return append([]byte{prefixImage}, name...)
}

func metaKey(name string) []byte {
	return append([]byte{prefixMeta}, name...)
}
