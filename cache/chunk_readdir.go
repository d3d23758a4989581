package cache

import (
	"context"

	"github.com/mdcachefs/mdcache/provider"
	"github.com/mdcachefs/mdcache/status"
)

// chunkCursor names a position within a directory's chunk list: the chunk
// and the index of the current dirent inside it.
type chunkCursor struct {
	c   *Chunk
	idx int
}

// readdirChunked implements spec §4.5.3. The lock-upgrade dance the spec
// describes (read lock, upgrade to write only on a population miss) is
// simplified here to taking the write lock up front. The lock is released
// around each entry's child resolution, attribute refresh and callback, so
// the content lock is never held across a sub-provider call during
// consumption (populateChunk is the one place that legitimately holds it
// across Readdir, matching spec §5's explicit carve-out for chunk
// population).
func (e *Entry) readdirChunked(ctx context.Context, opCtx OpContext, whence uint64, cb ReaddirCallback) (bool, status.Status) {
	e.dir.contentMu.Lock()
	defer e.dir.contentMu.Unlock()

	lookCk := whence
	settingFirst := false
	if whence == 0 {
		if e.dir.firstCookie != 0 {
			lookCk = e.dir.firstCookie
		} else {
			settingFirst = true
		}
	}

	var cur chunkCursor
	if lookCk != 0 {
		if d, ok := e.dir.cookieTree.Get(direntCookieKey(lookCk)); ok && d.chunk != nil {
			cur = chunkCursor{c: d.chunk, idx: indexOf(d.chunk, d)}
		} else {
			found, _, st := e.populateFromGap(ctx, opCtx, lookCk)
			if !st.Ok() {
				return false, st
			}
			if found == nil {
				return true, status.Ok() // nothing at or after look_ck: eod
			}
			cur = chunkCursor{c: found.chunk, idx: indexOf(found.chunk, found)}
			if settingFirst {
				e.dir.firstCookie = found.cookie
			}
		}
	} else if min, ok := e.dir.cookieTree.Min(); ok && min.chunk != nil {
		// Entries already reached cookie_tree via incremental placement
		// (e.g. creates) rather than a prior readdir; start there instead
		// of re-querying the sub-provider for a "gap" that isn't one.
		cur = chunkCursor{c: min.chunk, idx: indexOf(min.chunk, min)}
		e.dir.firstCookie = min.cookie
	} else {
		found, _, st := e.populateFromGap(ctx, opCtx, 0)
		if !st.Ok() {
			return false, st
		}
		if found == nil {
			e.flags.set(flagTrustContent | flagDirPopulated)
			return true, status.Ok()
		}
		cur = chunkCursor{c: found.chunk, idx: indexOf(found.chunk, found)}
		e.dir.firstCookie = found.cookie
	}

	skipWhence := whence != 0
	eod := false
	for {
		if cur.c == nil || cur.idx >= len(cur.c.dirents) {
			next, ok, confirmedEod := e.nextChunk(ctx, opCtx, cur.c)
			if !ok {
				if confirmedEod {
					eod = true
				}
				break
			}
			cur = chunkCursor{c: next, idx: 0}
			continue
		}
		d := cur.c.dirents[cur.idx]
		cur.idx++

		if skipWhence && d.cookie == whence {
			skipWhence = false
			continue
		}
		if d.deleted {
			continue
		}

		e.dir.contentMu.Unlock()
		child, found := e.table.GetByKeyLatch(d.ckey)
		if !found {
			var st status.Status
			child, st = e.lookupUncached(ctx, opCtx, d.name)
			if !st.Ok() {
				e.dir.contentMu.Lock()
				continue
			}
		}
		attrs, _ := child.RefreshAttrs(ctx)
		ctl := cb(d.name, child, attrs, d.cookie)
		child.PutRef()
		e.dir.contentMu.Lock()

		if d.eod {
			eod = true
		}
		if ctl == provider.DirTerminate || eod {
			break
		}
	}

	if whence == 0 && eod {
		e.flags.set(flagTrustContent | flagDirPopulated)
	}
	return eod, status.Ok()
}

// populateFromGap locates the last resident chunk before target and
// populates the gap after it (spec §4.5.3 "skip cached chunks ... call
// population").
func (e *Entry) populateFromGap(ctx context.Context, opCtx OpContext, target uint64) (*Dirent, bool, status.Status) {
	var prev *Chunk
	for _, c := range e.dir.chunks {
		fc := c.firstCookie()
		if fc != 0 && (target == 0 || fc <= target) {
			if prev == nil || fc > prev.firstCookie() {
				prev = c
			}
		}
	}
	return e.populateChunk(ctx, opCtx, prev, target)
}

// nextChunk returns the chunk that logically follows c, repopulating the
// gap if c.nextCk names a chunk no longer resident (spec §4.5.3 "if that
// chunk is no longer resident, set look_ck = 0 and repopulate"). A chunk
// whose next_ck is still 0 hasn't necessarily reached the true end of the
// directory — it only means nothing has linked a successor yet (e.g. every
// dirent so far arrived via direct placement rather than a provider
// readdir pass) — so an unconfirmed tail still probes the sub-provider
// once before giving up. The third return value reports whether that probe
// itself confirmed end-of-directory, for callers that would otherwise have
// no dirent left to carry an eod flag on.
func (e *Entry) nextChunk(ctx context.Context, opCtx OpContext, c *Chunk) (next *Chunk, ok bool, confirmedEod bool) {
	if c == nil {
		return nil, false, false
	}
	if last := c.lastDirent(); last != nil && last.eod {
		return nil, false, true
	}
	if c.nextCk == 0 {
		before := len(e.dir.chunks)
		_, providerEod, st := e.populateChunk(ctx, opCtx, c, 0)
		if !st.Ok() {
			return nil, false, false
		}
		if len(e.dir.chunks) > before {
			return e.dir.chunks[len(e.dir.chunks)-1], true, false
		}
		// No new chunk committed: either the provider found nothing past c
		// (providerEod) or it handed back entries colliding with c itself
		// without advancing nextCk. Either way there's nothing further.
		return nil, false, providerEod
	}
	if next := e.dir.findChunkByFirstCookie(c.nextCk); next != nil {
		return next, true, false
	}
	found, providerEod, st := e.populateChunk(ctx, opCtx, c, c.nextCk)
	if !st.Ok() || found == nil {
		return nil, false, providerEod
	}
	return found.chunk, true, false
}
