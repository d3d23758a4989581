package cache

import (
	"context"

	"github.com/mdcachefs/mdcache/status"
)

// Link adds name in e (the destination directory) as a new hard link to
// target (spec §4.1 "link").
func (e *Entry) Link(ctx context.Context, opCtx OpContext, name string, target *Entry) status.Status {
	_, err := e.table.provider.Link(withExport(ctx, opCtx), e.Handle(), name, target.Handle())
	if err != nil {
		return status.FromProviderError(err)
	}

	e.dir.contentMu.Lock()
	if old, ok := e.dir.nameTree.Get(direntNameKey(name)); ok {
		e.removeDirentLocked(old)
	}
	e.dir.deletedTree.Delete(direntNameKey(name))
	d := &Dirent{name: name, ckey: target.key}
	e.dir.nameTree.ReplaceOrInsert(d)
	e.placeDirent(ctx, d)
	e.dir.contentMu.Unlock()

	target.attrMu.Lock()
	target.flags.clear(flagTrustAttrs)
	target.attrMu.Unlock()

	return status.Ok()
}
