// Package lru implements the cache's node and chunk reclaimers (spec §4.3):
// intrusive doubly-linked queues with fake head/tail sentinels, so that
// detach/bump never need a nil check. Every live item sits in exactly one
// queue at a time; moving between queues is an O(1) unlink/relink.
package lru

import "sync"

// Queue names the three states an Entry (or, for the chunk LRU, a Chunk)
// moves between (spec §4.3): Active items were referenced recently,
// Reusable items are idle and may be reclaimed to satisfy an allocation,
// Cleanup items are awaiting out-of-line finalisation after their refcount
// could not be dropped to zero inline.
type Queue int

const (
	Active Queue = iota
	Reusable
	Cleanup
)

// Elem is the link for one item in a List. Insert allocates it and returns
// a pointer that callers keep for later Bump/Move/Remove calls; callers never
// touch its fields directly, List's methods maintain them.
type Elem[T any] struct {
	prev, next *Elem[T]
	queue      Queue
	owner      *List[T]
	value      T
}

// Value returns the item this element was constructed from.
func (e *Elem[T]) Value() T { return e.value }

// Queue reports which queue the element currently sits in.
func (e *Elem[T]) Queue() Queue { return e.queue }

// List is a reclaimer holding every live item in one of three queues. It is
// safe for concurrent use; callers outside this package still need to take
// whatever lock protects the item's own state (attr_lock/content_lock),
// since List only protects queue membership.
type List[T any] struct {
	mu sync.Mutex

	heads, tails [3]*Elem[T]
	counts       [3]int
}

// New constructs an empty reclaimer with a head/tail sentinel pair per queue.
func New[T any]() *List[T] {
	l := &List[T]{}
	for q := Active; q <= Cleanup; q++ {
		head := &Elem[T]{queue: q, owner: l}
		tail := &Elem[T]{queue: q, owner: l}
		head.next, tail.prev = tail, head
		l.heads[q], l.tails[q] = head, tail
	}
	return l
}

// Insert creates a new element holding value and places it at the MRU end
// of q, returning the element for later Bump/Remove/Move calls.
func (l *List[T]) Insert(q Queue, value T) *Elem[T] {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := &Elem[T]{value: value}
	l.linkMRU(q, e)
	return e
}

// linkMRU links e as the most-recently-used member of queue q. Must be
// called with l.mu held.
func (l *List[T]) linkMRU(q Queue, e *Elem[T]) {
	tail := l.tails[q]
	prev := tail.prev
	prev.next, e.prev = e, prev
	e.next, tail.prev = tail, e
	e.queue, e.owner = q, l
	l.counts[q]++
}

// unlink detaches e from whatever queue it is currently in. Must be called
// with l.mu held.
func (l *List[T]) unlink(e *Elem[T]) {
	e.prev.next, e.next.prev = e.next, e.prev
	l.counts[e.queue]--
	e.prev, e.next = nil, nil
}

// Bump moves e to the MRU end of its current queue (spec §4.3 "bump").
func (l *List[T]) Bump(e *Elem[T]) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := e.queue
	l.unlink(e)
	l.linkMRU(q, e)
}

// Move relocates e into queue dst, at its MRU end (spec §4.3 cleanup_push
// moves an element from active/reusable into cleanup; reclamation moves an
// element from reusable back into active on reuse).
func (l *List[T]) Move(e *Elem[T], dst Queue) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.unlink(e)
	l.linkMRU(dst, e)
}

// Remove detaches e from its queue entirely. After Remove, e must not be
// reused with this List.
func (l *List[T]) Remove(e *Elem[T]) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.unlink(e)
}

// LRU returns the least-recently-used element of queue q, or nil if empty.
// Used by the reclaimer to pick a reusable element to evict under memory
// pressure (spec §4.3 "get... possibly by reclaiming a reusable one").
func (l *List[T]) LRU(q Queue) *Elem[T] {
	l.mu.Lock()
	defer l.mu.Unlock()

	head := l.heads[q]
	if head.next == l.tails[q] {
		return nil
	}
	return head.next
}

// Len returns the number of elements currently in queue q.
func (l *List[T]) Len(q Queue) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[q]
}

// Each walks queue q from LRU to MRU, calling fn for each value. fn must not
// mutate the list; Each holds l.mu for its whole walk.
func (l *List[T]) Each(q Queue, fn func(*Elem[T])) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tail := l.tails[q]
	for e := l.heads[q].next; e != tail; e = e.next {
		fn(e)
	}
}
