// Package store implements the composite-keyed record store every mirrored
// entity is built on.
//
// A Store keeps at most one Item per key, where the key is formed from an
// ordered set of field names declared at construction. Items whose key fields
// are incomplete are skipped silently. Capacity bounded stores evict the
// oldest inserted keys first; updating an existing key does not refresh its
// position. Each mutating call is applied under one lock and signals the
// store's Notifier (and any parent notifiers) exactly once.
package store

import (
	"container/list"
	"context"
	"sync"
)

// OpKind selects what an Op does with its items.
type OpKind int

const (
	OpUpdate OpKind = iota
	OpRemove
)

func (k OpKind) String() string {
	if k == OpRemove {
		return "remove"
	}
	return "update"
}

// Op is one step of an atomic batch applied with Store.Apply.
type Op struct {
	Kind  OpKind
	Items []Item
}

// UpdateOp is shorthand for an OpUpdate step.
func UpdateOp(items ...Item) Op { return Op{Kind: OpUpdate, Items: items} }

// RemoveOp is shorthand for an OpRemove step.
func RemoveOp(items ...Item) Op { return Op{Kind: OpRemove, Items: items} }

// Result summarises what a batch did.
type Result struct {
	Updated int
	Removed int
	Skipped int
	Evicted int
}

type entry struct {
	key  string
	item Item
}

// Store is a composite-keyed, insertion ordered map of Items. It is safe for
// concurrent use.
type Store struct {
	keyFields []string
	capacity  int

	mu    sync.RWMutex
	index map[string]*list.Element
	order *list.List

	notifier *Notifier
	parents  []*Notifier
}

// New creates a store keyed by keyFields. A capacity of 0 or less means
// unbounded. Parents are additionally notified on every batch.
func New(keyFields []string, capacity int, parents ...*Notifier) *Store {
	if capacity < 0 {
		capacity = 0
	}
	fields := append([]string(nil), keyFields...)
	return &Store{
		keyFields: fields,
		capacity:  capacity,
		index:     make(map[string]*list.Element),
		order:     list.New(),
		notifier:  NewNotifier(),
		parents:   parents,
	}
}

// KeyFields returns the declared key fields in order.
func (s *Store) KeyFields() []string {
	return append([]string(nil), s.keyFields...)
}

// Capacity returns the record bound, 0 when unbounded.
func (s *Store) Capacity() int { return s.capacity }

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.order.Len()
}

// Get returns one record matching filter. When filter names every key field
// the lookup is exact, otherwise records are scanned in insertion order.
func (s *Store) Get(filter Item) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if key, ok := encodeKey(s.keyFields, filter); ok {
		el, found := s.index[key]
		if !found {
			return nil, false
		}
		item := el.Value.(*entry).item
		if !matches(item, filter) {
			return nil, false
		}
		return item.Clone(), true
	}

	for el := s.order.Front(); el != nil; el = el.Next() {
		item := el.Value.(*entry).item
		if matches(item, filter) {
			return item.Clone(), true
		}
	}
	return nil, false
}

// List returns every record matching filter in insertion order. A nil or
// empty filter returns all records.
func (s *Store) List(filter Item) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Item, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		item := el.Value.(*entry).item
		if len(filter) == 0 || matches(item, filter) {
			out = append(out, item.Clone())
		}
	}
	return out
}

// Update inserts or shallow-merges each item at its key.
func (s *Store) Update(items ...Item) Result {
	return s.Apply(UpdateOp(items...))
}

// Remove deletes the records addressed by items. Absent keys are ignored.
func (s *Store) Remove(items ...Item) Result {
	return s.Apply(RemoveOp(items...))
}

// Apply runs ops in order as one atomic batch. Readers observe either none
// or all of it. Eviction runs once after the last op.
func (s *Store) Apply(ops ...Op) Result {
	var res Result

	s.mu.Lock()
	for _, op := range ops {
		for _, item := range op.Items {
			key, ok := encodeKey(s.keyFields, item)
			if !ok {
				res.Skipped++
				continue
			}
			switch op.Kind {
			case OpRemove:
				if el, found := s.index[key]; found {
					s.order.Remove(el)
					delete(s.index, key)
					res.Removed++
				}
			default:
				if el, found := s.index[key]; found {
					stored := el.Value.(*entry).item
					for k, v := range item {
						stored[k] = v
					}
				} else {
					s.index[key] = s.order.PushBack(&entry{key: key, item: item.Clone()})
				}
				res.Updated++
			}
		}
	}
	if s.capacity > 0 {
		for s.order.Len() > s.capacity {
			front := s.order.Front()
			delete(s.index, front.Value.(*entry).key)
			s.order.Remove(front)
			res.Evicted++
		}
	}
	s.mu.Unlock()

	s.signal()
	return res
}

func (s *Store) signal() {
	s.notifier.Notify()
	for _, p := range s.parents {
		if p != nil {
			p.Notify()
		}
	}
}

// Wait blocks until the next mutation of this store or until ctx is done.
func (s *Store) Wait(ctx context.Context) error {
	return s.notifier.Wait(ctx)
}

// Changed returns a channel closed by the next mutation of this store.
func (s *Store) Changed() <-chan struct{} {
	return s.notifier.Changed()
}
