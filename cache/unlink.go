package cache

import (
	"context"

	"github.com/mdcachefs/mdcache/key"
	"github.com/mdcachefs/mdcache/status"
)

// Unlink removes name from e (spec §4.1 "unlink").
func (e *Entry) Unlink(ctx context.Context, opCtx OpContext, name string) status.Status {
	err := e.table.provider.Unlink(withExport(ctx, opCtx), e.Handle(), name)
	if err != nil {
		st := status.FromProviderError(err)
		if st.Major == status.NotEmpty {
			e.invalidateChildDirentCache(name)
		}
		return st
	}

	e.dir.contentMu.Lock()
	d, ok := e.dir.nameTree.Get(direntNameKey(name))
	var childKey key.K
	if ok {
		childKey = d.ckey
		e.removeDirentLocked(d)
	}
	e.dir.contentMu.Unlock()

	e.attrMu.Lock()
	e.flags.clear(flagTrustAttrs)
	e.attrMu.Unlock()

	if ok {
		if child, found := e.table.GetByKeyLatch(childKey); found {
			child.attrMu.Lock()
			child.flags.clear(flagTrustAttrs)
			child.attrMu.Unlock()
			child.flags.set(flagUnreachable)
			if child.typ.IsDirectory() {
				child.dir.contentMu.Lock()
				child.dir.parentKey = key.K{}
				child.dir.contentMu.Unlock()
			}
			child.PutRef()
		}
	}
	return status.Ok()
}

// invalidateChildDirentCache drops the cached directory content of the
// child named name, used when unlink fails with NOTEMPTY so a retry after
// the caller empties the directory sees fresh content (spec §4.1 "unlink").
func (e *Entry) invalidateChildDirentCache(name string) {
	e.dir.contentMu.RLock()
	d, ok := e.dir.nameTree.Get(direntNameKey(name))
	e.dir.contentMu.RUnlock()
	if !ok {
		return
	}
	child, found := e.table.GetByKeyLatch(d.ckey)
	if !found || !child.typ.IsDirectory() {
		if found {
			child.PutRef()
		}
		return
	}
	child.invalidateContent()
	child.PutRef()
}
