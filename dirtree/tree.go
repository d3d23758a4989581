// Package dirtree supplies the ordered trees spec §3/§4.5 call an "AVL":
// name_tree, cookie_tree, and deleted_tree. Rather than hand-rolling AVL
// rotations, it wraps github.com/google/btree's generic BTreeG, which gives
// the same O(log n) ordered insert/delete/range-scan the source relies on
// and is the ordered-tree library the rest of the retrieval pack reaches
// for (see DESIGN.md).
package dirtree

import "github.com/google/btree"

const degree = 16

// Tree is an ordered set of T, ordered by the Less function supplied to New.
// It is not safe for concurrent use; callers hold content_lock (spec §5)
// around every call.
type Tree[T any] struct {
	bt *btree.BTreeG[T]
}

// New builds an empty tree ordered by less.
func New[T any](less func(a, b T) bool) *Tree[T] {
	return &Tree[T]{bt: btree.NewG(degree, less)}
}

// ReplaceOrInsert inserts item, returning the item it replaced (if any) and
// whether a replacement occurred. An existing item that orders equal to
// item is replaced by it (spec §4.5.2 step 3.3).
func (t *Tree[T]) ReplaceOrInsert(item T) (old T, replaced bool) {
	return t.bt.ReplaceOrInsert(item)
}

// Delete removes item (compared via the tree's Less), returning it.
func (t *Tree[T]) Delete(item T) (removed T, ok bool) {
	return t.bt.Delete(item)
}

// Get returns the item equivalent to item under the tree's ordering.
func (t *Tree[T]) Get(item T) (found T, ok bool) {
	return t.bt.Get(item)
}

// Min/Max return the first/last item in ordering, used to find chunk
// boundaries and the first dirent of a directory (spec §4.5.1).
func (t *Tree[T]) Min() (item T, ok bool) { return t.bt.Min() }
func (t *Tree[T]) Max() (item T, ok bool) { return t.bt.Max() }

// Len returns the number of items in the tree.
func (t *Tree[T]) Len() int { return t.bt.Len() }

// Ascend walks every item in order; fn returning false stops the walk.
func (t *Tree[T]) Ascend(fn func(T) bool) {
	t.bt.Ascend(fn)
}

// AscendFrom walks every item >= pivot in order; fn returning false stops
// the walk. Used for readdir continuation from a cookie in the
// full-population mode (spec §4.5.4).
func (t *Tree[T]) AscendFrom(pivot T, fn func(T) bool) {
	t.bt.AscendGreaterOrEqual(pivot, fn)
}
