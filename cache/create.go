package cache

import (
	"context"

	"github.com/mdcachefs/mdcache/provider"
	"github.com/mdcachefs/mdcache/status"
)

// Create makes a regular file named name under e (spec §4.1 "create").
func (e *Entry) Create(ctx context.Context, opCtx OpContext, name string, mode uint32) (*Entry, status.Status) {
	e.dir.createRefcount.Add(1)
	defer e.dir.createRefcount.Add(-1)

	h, attrs, err := e.table.provider.Create(withExport(ctx, opCtx), e.Handle(), name, mode)
	if err != nil {
		return nil, status.FromProviderError(err)
	}
	return e.allocAndCheckHandle(ctx, opCtx, name, h, attrs)
}

// Mkdir makes a subdirectory named name under e (spec §4.1 "mkdir").
func (e *Entry) Mkdir(ctx context.Context, opCtx OpContext, name string, mode uint32) (*Entry, status.Status) {
	e.dir.createRefcount.Add(1)
	defer e.dir.createRefcount.Add(-1)

	h, attrs, err := e.table.provider.Mkdir(withExport(ctx, opCtx), e.Handle(), name, mode)
	if err != nil {
		return nil, status.FromProviderError(err)
	}
	child, st := e.allocAndCheckHandle(ctx, opCtx, name, h, attrs)
	if st.Ok() {
		child.dir.contentMu.Lock()
		child.dir.parentKey = e.key
		child.dir.contentMu.Unlock()
	}
	return child, st
}

// Mknode makes a device/fifo/socket node named name under e (spec §4.1
// "mknode").
func (e *Entry) Mknode(ctx context.Context, opCtx OpContext, name string, typ provider.ObjType, mode uint32) (*Entry, status.Status) {
	e.dir.createRefcount.Add(1)
	defer e.dir.createRefcount.Add(-1)

	h, attrs, err := e.table.provider.Mknode(withExport(ctx, opCtx), e.Handle(), name, typ, mode)
	if err != nil {
		return nil, status.FromProviderError(err)
	}
	return e.allocAndCheckHandle(ctx, opCtx, name, h, attrs)
}

// Symlink creates a symlink named name under e pointing at target (spec
// §4.1 "symlink").
func (e *Entry) Symlink(ctx context.Context, opCtx OpContext, name, target string) (*Entry, status.Status) {
	e.dir.createRefcount.Add(1)
	defer e.dir.createRefcount.Add(-1)

	h, attrs, err := e.table.provider.Symlink(withExport(ctx, opCtx), e.Handle(), name, target)
	if err != nil {
		return nil, status.FromProviderError(err)
	}
	child, st := e.allocAndCheckHandle(ctx, opCtx, name, h, attrs)
	if st.Ok() {
		child.attrMu.Lock()
		child.symlinkTarget = target
		child.flags.set(flagTrustContent) // the symlink target is immutable
		child.attrMu.Unlock()
	}
	return child, st
}

// allocAndCheckHandle is the common post-processing shared by all four
// creation operations (spec §4.1 "create / mkdir / mknode / symlink"):
// find-or-create the child node, slot a dirent for it under the parent's
// content lock, and clear the parent's TRUST_ATTRS since its link count
// and mtime just changed.
func (e *Entry) allocAndCheckHandle(ctx context.Context, opCtx OpContext, name string, h provider.Handle, attrs provider.Attrs) (*Entry, status.Status) {
	child, st := e.table.LocateHost(ctx, h, attrs.Type, attrs)
	if !st.Ok() {
		return nil, st
	}
	if mst := e.table.checkMapping(child, opCtx.Export); !mst.Ok() {
		child.PutRef()
		return nil, mst
	}

	e.dir.contentMu.Lock()
	if old, ok := e.dir.nameTree.Get(direntNameKey(name)); ok {
		e.removeDirentLocked(old)
	}
	e.dir.deletedTree.Delete(direntNameKey(name))
	d := &Dirent{name: name, ckey: child.key}
	e.dir.nameTree.ReplaceOrInsert(d)
	e.placeDirent(ctx, d)
	e.dir.contentMu.Unlock()

	e.attrMu.Lock()
	e.flags.clear(flagTrustAttrs)
	e.attrMu.Unlock()

	return child, status.Ok()
}

// removeDirentLocked takes d out of whichever structure currently holds it
// (chunk or detached) and out of cookie_tree/name_tree. Caller holds
// content_lock for write.
func (e *Entry) removeDirentLocked(d *Dirent) {
	if d.chunk != nil {
		c := d.chunk
		for i, x := range c.dirents {
			if x == d {
				c.dirents = append(c.dirents[:i], c.dirents[i+1:]...)
				c.numEntries--
				break
			}
		}
		if d.sorted {
			e.dir.cookieTree.Delete(d)
		}
	} else {
		e.dir.removeDetached(d)
	}
	e.dir.nameTree.Delete(d)
}
