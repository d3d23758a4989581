package lru_test

import (
	"testing"

	"github.com/mdcachefs/mdcache/lru"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertStartsAtMRUEnd(t *testing.T) {
	l := lru.New[string]()

	a := l.Insert(lru.Active, "a")
	b := l.Insert(lru.Active, "b")

	require.Equal(t, 2, l.Len(lru.Active))
	assert.Equal(t, a, l.LRU(lru.Active))

	var order []string
	l.Each(lru.Active, func(e *lru.Elem[string]) { order = append(order, e.Value()) })
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestBumpMovesToMRUEnd(t *testing.T) {
	l := lru.New[string]()
	a := l.Insert(lru.Active, "a")
	_ = l.Insert(lru.Active, "b")
	c := l.Insert(lru.Active, "c")

	l.Bump(a)

	assert.Equal(t, "b", l.LRU(lru.Active).Value())
	l.Remove(l.LRU(lru.Active))
	assert.Equal(t, "c", l.LRU(lru.Active).Value())
	l.Remove(l.LRU(lru.Active))
	assert.Equal(t, "a", l.LRU(lru.Active).Value())
	_ = c
}

func TestMoveChangesQueue(t *testing.T) {
	l := lru.New[int]()
	e := l.Insert(lru.Reusable, 42)
	require.Equal(t, 1, l.Len(lru.Reusable))

	l.Move(e, lru.Cleanup)

	assert.Equal(t, 0, l.Len(lru.Reusable))
	assert.Equal(t, 1, l.Len(lru.Cleanup))
	assert.Equal(t, lru.Cleanup, e.Queue())
}

func TestLRUOnEmptyQueueReturnsNil(t *testing.T) {
	l := lru.New[int]()
	assert.Nil(t, l.LRU(lru.Active))
}
