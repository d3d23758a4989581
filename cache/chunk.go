package cache

import "github.com/mdcachefs/mdcache/lru"

// Chunk is a fixed-capacity ordered group of Dirents forming a contiguous
// cookie range (spec §3, §4.5).
type Chunk struct {
	parent *Entry

	dirents []*Dirent

	prevChunk *Chunk
	nextCk    uint64

	numEntries int

	lruElem *lru.Elem[*Chunk]
}

func newChunk(parent *Entry, prev *Chunk) *Chunk {
	return &Chunk{parent: parent, prevChunk: prev}
}

func (c *Chunk) firstCookie() uint64 {
	if len(c.dirents) == 0 {
		return 0
	}
	return c.dirents[0].cookie
}

func (c *Chunk) lastDirent() *Dirent {
	if len(c.dirents) == 0 {
		return nil
	}
	return c.dirents[len(c.dirents)-1]
}

// append adds d to the end of c's ordered list (spec §4.5.2 step 3.5).
func (c *Chunk) append(d *Dirent) {
	d.chunk = c
	c.dirents = append(c.dirents, d)
	c.numEntries++
}

// splitInHalf moves the second half of c's dirents into a new chunk that
// follows c in cookie order (spec §4.5.1 step 3, split threshold
// avl_chunk_split).
func (c *Chunk) splitInHalf() *Chunk {
	mid := len(c.dirents) / 2
	next := newChunk(c.parent, c)
	next.dirents = append(next.dirents, c.dirents[mid:]...)
	for _, d := range next.dirents {
		d.chunk = next
	}
	next.numEntries = len(next.dirents)

	c.dirents = c.dirents[:mid]
	c.numEntries = mid
	c.nextCk = next.firstCookie()

	return next
}
