package cache

import (
	"context"

	"github.com/mdcachefs/mdcache/lru"
)

// placeDirent decides where a freshly discovered Dirent belongs: inside an
// existing chunk, or detached (spec §4.5.1). Callers must already have
// inserted d into dir.nameTree and must hold dir.contentMu for write.
func (e *Entry) placeDirent(ctx context.Context, d *Dirent) {
	dir := e.dir
	cfg := e.table.cfg

	if cfg.AvlChunk == 0 {
		// Chunking disabled: name_tree membership alone is the cache.
		return
	}

	cookie, ok := e.table.provider.ComputeReaddirCookie(ctx, e.Handle(), d.name)
	if !ok {
		e.flags.clear(flagDirPopulated | flagTrustDirChunks)
		dir.addDetached(d, int(cfg.AvlDetachedMax))
		return
	}
	d.cookie = cookie

	if dir.cookieTree.Len() == 0 {
		e.flags.clear(flagTrustDirChunks)
		dir.addDetached(d, int(cfg.AvlDetachedMax))
		return
	}

	if first, ok := dir.cookieTree.Min(); ok && first.cookie == cookie {
		recomputed, ok2 := e.table.provider.ComputeReaddirCookie(ctx, e.Handle(), first.name)
		if !ok2 {
			e.flags.clear(flagTrustDirChunks)
			dir.addDetached(d, int(cfg.AvlDetachedMax))
			return
		}
		dir.cookieTree.Delete(first)
		first.cookie = recomputed
		dir.cookieTree.ReplaceOrInsert(first)
		e.insertIntoChunk(first.chunk, d, indexOf(first.chunk, first))
		return
	}

	var prev, next *Dirent
	dir.cookieTree.Ascend(func(x *Dirent) bool {
		if x.cookie < cookie {
			prev = x
			return true
		}
		next = x
		return false
	})

	switch {
	case prev != nil && prev.chunk != nil && (next == nil || next.chunk == prev.chunk):
		e.insertIntoChunk(prev.chunk, d, indexOf(prev.chunk, prev)+1)
	case prev != nil && next != nil && prev.chunk != nil && next.chunk != nil &&
		prev.chunk.nextCk == next.chunk.firstCookie():
		// Exact boundary of two adjacent chunks: append to prev's tail.
		e.insertIntoChunk(prev.chunk, d, len(prev.chunk.dirents))
	default:
		// Gap between non-adjacent chunks, or only one side resolved: keep
		// trusting the existing chunks and leave this one detached; a
		// future readdir fills the gap naturally (spec §4.5.1 case 3).
		dir.addDetached(d, int(cfg.AvlDetachedMax))
	}
}

func indexOf(c *Chunk, d *Dirent) int {
	if c == nil {
		return 0
	}
	for i, x := range c.dirents {
		if x == d {
			return i
		}
	}
	return len(c.dirents)
}

// insertIntoChunk links d into c at position idx, updates cookie_tree and
// chunk linkage, and splits c if it has reached avl_chunk_split (spec
// §4.5.1 step 3).
func (e *Entry) insertIntoChunk(c *Chunk, d *Dirent, idx int) {
	dir := e.dir
	if idx < 0 {
		idx = 0
	}
	if idx > len(c.dirents) {
		idx = len(c.dirents)
	}
	c.dirents = append(c.dirents, nil)
	copy(c.dirents[idx+1:], c.dirents[idx:])
	c.dirents[idx] = d
	c.numEntries++

	d.chunk = c
	d.sorted = true
	dir.removeDetached(d)
	dir.cookieTree.ReplaceOrInsert(d)

	if int(e.table.cfg.AvlChunkSplit) > 0 && c.numEntries >= int(e.table.cfg.AvlChunkSplit) {
		e.splitChunk(c)
	}
}

// splitChunk halves c and wires the new chunk into dir.chunks right after
// it (spec §4.5.1 step 3).
func (e *Entry) splitChunk(c *Chunk) {
	dir := e.dir
	next := c.splitInHalf()

	pos := -1
	for i, x := range dir.chunks {
		if x == c {
			pos = i
			break
		}
	}
	if pos >= 0 {
		dir.chunks = append(dir.chunks, nil)
		copy(dir.chunks[pos+2:], dir.chunks[pos+1:])
		dir.chunks[pos+1] = next
	} else {
		dir.chunks = append(dir.chunks, next)
	}

	next.lruElem = e.table.lruChunks.Insert(lru.Active, next)
	e.table.metrics.chunkSplitsTotal.Inc()
}

// commitChunk appends a freshly populated chunk to dir.chunks and registers
// it with the chunk LRU (spec §4.5.2 step 5 "commit the last chunk").
func (e *Entry) commitChunk(c *Chunk) {
	e.dir.chunks = append(e.dir.chunks, c)
	c.lruElem = e.table.lruChunks.Insert(lru.Active, c)
}

// findChunkByFirstCookie walks dir.chunks looking for the chunk whose first
// dirent has the given cookie, used when resuming readdir across a
// next_ck chain (spec §4.5.3 "if not resident").
func (dir *dirState) findChunkByFirstCookie(cookie uint64) *Chunk {
	for _, c := range dir.chunks {
		if c.firstCookie() == cookie {
			return c
		}
	}
	return nil
}
