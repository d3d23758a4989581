package cache

import (
	"context"

	"github.com/mdcachefs/mdcache/provider"
	"github.com/mdcachefs/mdcache/status"
)

// Lookup resolves name under the directory e (spec §4.1 "lookup"). The
// returned Entry, if any, carries one reference the caller must PutRef.
func (e *Entry) Lookup(ctx context.Context, opCtx OpContext, name string) (*Entry, status.Status) {
	if e.typ != provider.Directory {
		return nil, status.NotADirectory()
	}
	if name == "." {
		e.ref()
		return e, status.Ok()
	}
	if name == ".." {
		return e.lookupParent(ctx, opCtx)
	}

	if child, st, hit := e.tryGetCached(name); hit {
		return e.mapAndReturn(child, st, opCtx)
	}

	e.dir.contentMu.Lock()
	canNegativeCache := e.flags.has(flagTrustContent|flagDirPopulated) && e.dir.createRefcount.Load() == 0
	// Re-check under write lock: a racer may have populated since.
	if child, st, hit := e.tryGetCachedLocked(name); hit {
		e.dir.contentMu.Unlock()
		return e.mapAndReturn(child, st, opCtx)
	}
	e.dir.contentMu.Unlock()

	if canNegativeCache {
		return nil, status.NotFound()
	}
	return e.lookupUncached(ctx, opCtx, name)
}

func (e *Entry) mapAndReturn(child *Entry, st status.Status, opCtx OpContext) (*Entry, status.Status) {
	if !st.Ok() {
		return nil, st
	}
	if child == nil {
		return nil, status.NotFound()
	}
	if mst := e.table.checkMapping(child, opCtx.Export); !mst.Ok() {
		child.PutRef()
		return nil, mst
	}
	return child, status.Ok()
}

// tryGetCached takes the content read lock and looks for name in the
// cache, reporting hit=false when the cache has nothing to say either way
// (spec §4.1 "try_get_cached under a reader lock").
func (e *Entry) tryGetCached(name string) (*Entry, status.Status, bool) {
	e.dir.contentMu.RLock()
	defer e.dir.contentMu.RUnlock()
	return e.tryGetCachedLocked(name)
}

func (e *Entry) tryGetCachedLocked(name string) (*Entry, status.Status, bool) {
	if d, ok := e.dir.nameTree.Get(direntNameKey(name)); ok {
		if d.deleted {
			return nil, status.Status{}, false
		}
		child, found := e.table.GetByKeyLatch(d.ckey)
		if !found {
			// Weak reference gone stale; caller falls back to the
			// sub-provider (spec Design Notes "weak dirent references").
			return nil, status.Status{}, false
		}
		return child, status.Ok(), true
	}
	if _, ok := e.dir.deletedTree.Get(direntNameKey(name)); ok {
		if e.flags.has(flagTrustContent | flagDirPopulated) {
			return nil, status.NotFound(), true
		}
	}
	return nil, status.Status{}, false
}

// lookupParent resolves ".." via the cached parent key, falling back to a
// fresh key-table lookup; it is never cached as a dirent (spec §4.1).
func (e *Entry) lookupParent(ctx context.Context, opCtx OpContext) (*Entry, status.Status) {
	e.dir.contentMu.RLock()
	pk := e.dir.parentKey
	e.dir.contentMu.RUnlock()

	if pk.Zero() {
		return nil, status.NotFound()
	}
	parent, found := e.table.GetByKeyLatch(pk)
	if !found {
		return nil, status.StaleHandle()
	}
	if mst := e.table.checkMapping(parent, opCtx.Export); !mst.Ok() {
		parent.PutRef()
		return nil, mst
	}
	return parent, status.Ok()
}

// lookupUncached calls the sub-provider directly and, on success, slots the
// discovered child into the directory cache (spec §4.1 "lookup_uncached").
func (e *Entry) lookupUncached(ctx context.Context, opCtx OpContext, name string) (*Entry, status.Status) {
	h, attrs, err := e.table.provider.Lookup(withExport(ctx, opCtx), e.Handle(), name)
	if err != nil {
		if _, ok := err.(*provider.NotFoundError); ok {
			e.cacheNegative(name)
			return nil, status.NotFound()
		}
		return nil, status.FromProviderError(err)
	}

	child, st := e.table.LocateHost(ctx, h, attrs.Type, attrs)
	if !st.Ok() {
		return nil, st
	}
	if mst := e.table.checkMapping(child, opCtx.Export); !mst.Ok() {
		child.PutRef()
		return nil, mst
	}

	e.dir.contentMu.Lock()
	if _, already := e.dir.nameTree.Get(direntNameKey(name)); !already {
		d := &Dirent{name: name, ckey: child.key}
		e.dir.nameTree.ReplaceOrInsert(d)
		e.dir.deletedTree.Delete(direntNameKey(name))
		e.placeDirent(ctx, d)
	}
	e.dir.contentMu.Unlock()

	return child, status.Ok()
}

// cacheNegative records a tombstone for name so a subsequent lookup can be
// answered from cache once TRUST_CONTENT|DIR_POPULATED are set.
func (e *Entry) cacheNegative(name string) {
	e.dir.contentMu.Lock()
	defer e.dir.contentMu.Unlock()
	if _, ok := e.dir.nameTree.Get(direntNameKey(name)); ok {
		return
	}
	tomb := &Dirent{name: name, deleted: true}
	e.dir.deletedTree.ReplaceOrInsert(tomb)
}

// withExport is a placeholder seam for installing the operation's context
// into ctx for the duration of a sub-provider call (spec §4.1 "subcall
// scope"). The value is stored under a key private to this package and no
// accessor is exported, so sub-providers cannot read it back.
func withExport(ctx context.Context, opCtx OpContext) context.Context {
	return context.WithValue(ctx, opCtxKey{}, opCtx)
}

type opCtxKey struct{}
