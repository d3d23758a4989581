package cache

import (
	"context"

	"github.com/mdcachefs/mdcache/provider"
	"github.com/mdcachefs/mdcache/status"
)

// populateChunk fetches one or more chunks' worth of entries starting
// after prev (or from the top if prev is nil), resuming at target (spec
// §4.5.2). Caller holds dir.contentMu for write. Returns the first dirent
// actually streamed back — the correct resume point even when nothing
// landed on target exactly, since the provider already excludes everything
// ordered before it — or nil if the sub-provider had nothing left to give.
func (e *Entry) populateChunk(ctx context.Context, opCtx OpContext, prev *Chunk, target uint64) (found *Dirent, eod bool, st status.Status) {
	cfg := e.table.cfg
	cur := newChunk(e, prev)

	var whence []byte
	if e.table.provider.Supports(provider.FeatureWhenceIsName) {
		var name string
		if prev != nil {
			if last := prev.lastDirent(); last != nil {
				name = last.name
			}
		}
		whence = []byte(name)
	} else if prev != nil {
		if prev.nextCk != 0 {
			whence = cookieBytes(prev.nextCk)
		} else if last := prev.lastDirent(); last != nil {
			// next_ck is still unknown (prev's successor has never been
			// linked, e.g. every dirent so far arrived via direct
			// placement rather than a readdir pass): resume just past
			// prev's own last entry instead of restarting from scratch.
			whence = cookieBytes(last.cookie + 1)
		}
	} else {
		whence = cookieBytes(target)
	}

	terminated := false
	providerEod, err := e.table.provider.Readdir(withExport(ctx, opCtx), e.Handle(), whence, func(do provider.DirentOut) provider.ReaddirControl {
		if terminated {
			return provider.DirTerminate
		}

		if cur.numEntries >= int(cfg.AvlChunk) {
			e.commitChunk(cur)
			next := newChunk(e, cur)
			cur.nextCk = do.Cookie
			cur = next
		}

		child, st2 := e.table.LocateHost(ctx, do.Handle, do.Attrs.Type, do.Attrs)
		if !st2.Ok() {
			return provider.DirContinue
		}
		defer child.PutRef()

		if existing, ok := e.dir.nameTree.Get(direntNameKey(do.Name)); ok {
			if existing.chunk != nil && existing.chunk != cur {
				// We've walked into a chunk the cache already has cached;
				// stop building this one and link to it (spec §4.5.2
				// step 3.4).
				cur.nextCk = do.Cookie
				terminated = true
				return provider.DirTerminate
			}
			e.dir.removeDetached(existing)
			existing.ckey = child.key
			existing.cookie = do.Cookie
			existing.sorted = true
			existing.chunk = cur
			cur.dirents = append(cur.dirents, existing)
			cur.numEntries++
			e.dir.cookieTree.ReplaceOrInsert(existing)
			if found == nil {
				// First entry this call actually streamed (the provider
				// already skips everything below the resume cookie), so
				// it's the correct cursor position even when it doesn't
				// land exactly on target.
				found = existing
			}
			if cur.numEntries >= int(cfg.AvlChunk) {
				return provider.DirReadahead
			}
			return provider.DirContinue
		}

		d := &Dirent{name: do.Name, ckey: child.key, cookie: do.Cookie, chunk: cur, sorted: true}
		e.dir.nameTree.ReplaceOrInsert(d)
		cur.dirents = append(cur.dirents, d)
		cur.numEntries++
		e.dir.cookieTree.ReplaceOrInsert(d)
		if found == nil {
			found = d
		}
		if cur.numEntries >= int(cfg.AvlChunk) {
			return provider.DirReadahead
		}
		return provider.DirContinue
	})

	if providerEod && len(cur.dirents) > 0 {
		cur.dirents[len(cur.dirents)-1].eod = true
	}
	if len(cur.dirents) > 0 {
		e.commitChunk(cur)
	} else if cur.lruElem != nil {
		e.table.lruChunks.Remove(cur.lruElem)
	}

	if err != nil {
		return nil, false, status.FromProviderError(err)
	}
	return found, providerEod, status.Ok()
}
