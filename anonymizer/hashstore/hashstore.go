// Package hashstore implements the chained hash table that backs every
// anonymization table. Each bucket is a circular doubly linked ring of
// entries, new entries are pushed to the head of their ring and the table
// never grows: more distinct keys than buckets only lengthen the rings.
package hashstore

import (
	"bytes"

	"github.com/pkg/errors"
)

// DefaultSize is the bucket count used when none is configured.
const DefaultSize = 1024

// NoRef marks an entry without an owning network.
const NoRef = -1

// ErrDuplicateKey is returned by Insert for a key that is already stored.
var ErrDuplicateKey = errors.New("key already present")

// Kind separates the identifier namespaces sharing one table.
type Kind uint8

// Entry is a stored identifier and its substitute. Sub is set once by the
// allocator that created the entry and must not change afterwards.
type Entry struct {
	Kind Kind
	Key  []byte
	Sub  []byte
	Ref  int // arena index of the owning network, NoRef if there is none

	hash       uint32
	next, prev *Entry
}

// Store is a fixed size chained hash table.
type Store struct {
	buckets []*Entry
	hasher  Hasher
	count   int
}

// New creates a Store with size buckets hashed by the width adaptive
// Checksum. A size below one falls back to DefaultSize.
func New(size int) *Store {
	if size < 1 {
		size = DefaultSize
	}
	return NewWithHasher(size, Checksum{Width: WidthFor(size)})
}

// NewWithHasher creates a Store using a custom Hasher.
func NewWithHasher(size int, hasher Hasher) *Store {
	if size < 1 {
		size = DefaultSize
	}
	return &Store{buckets: make([]*Entry, size), hasher: hasher}
}

// Size returns the bucket count.
func (s *Store) Size() int {
	return len(s.buckets)
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	return s.count
}

func (s *Store) bucket(hash uint32) int {
	return int(hash % uint32(len(s.buckets)))
}

// Find returns the entry stored for kind and key, or nil.
func (s *Store) Find(kind Kind, key []byte) *Entry {
	head := s.buckets[s.bucket(s.hasher.Sum(key))]
	if head == nil {
		return nil
	}
	target := head
	for {
		if target.Kind == kind && bytes.Equal(target.Key, key) {
			return target
		}
		target = target.next
		if target == head {
			return nil
		}
	}
}

// Insert stores a new entry for kind and key. The key is copied. Callers are
// expected to Find first, inserting a stored key returns ErrDuplicateKey.
func (s *Store) Insert(kind Kind, key []byte) (*Entry, error) {
	if s.Find(kind, key) != nil {
		return nil, errors.Wrapf(ErrDuplicateKey, "kind %#x key %x", kind, key)
	}
	entry := &Entry{
		Kind: kind,
		Key:  append([]byte(nil), key...),
		Ref:  NoRef,
		hash: s.hasher.Sum(key),
	}
	index := s.bucket(entry.hash)
	if start := s.buckets[index]; start != nil {
		entry.next = start
		entry.prev = start.prev
		entry.prev.next = entry
		entry.next.prev = entry
	} else {
		entry.next, entry.prev = entry, entry
	}
	s.buckets[index] = entry
	s.count++
	return entry, nil
}

// Remove unlinks entry from its ring. Removing an entry twice is a no-op.
func (s *Store) Remove(entry *Entry) {
	if entry == nil || entry.next == nil {
		return
	}
	index := s.bucket(entry.hash)
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	if s.buckets[index] == entry {
		if entry.next == entry {
			s.buckets[index] = nil
		} else {
			s.buckets[index] = entry.next
		}
	}
	entry.next, entry.prev = nil, nil
	s.count--
}

// Walk calls fn for every entry, bucket by bucket, until fn returns false.
// fn must not insert or remove entries.
func (s *Store) Walk(fn func(*Entry) bool) {
	for _, head := range s.buckets {
		if head == nil {
			continue
		}
		target := head
		for {
			if !fn(target) {
				return
			}
			target = target.next
			if target == head {
				break
			}
		}
	}
}
