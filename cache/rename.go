package cache

import (
	"context"
	"unsafe"

	"github.com/mdcachefs/mdcache/key"
	"github.com/mdcachefs/mdcache/provider"
	"github.com/mdcachefs/mdcache/status"
)

// lockTwoDirs takes both directories' content locks for write, ordered by
// address to avoid ABBA deadlock against a concurrent rename the other way
// (spec §5 "when two directories must be locked, order by memory address").
func lockTwoDirs(a, b *Entry) (unlock func()) {
	if a == b {
		a.dir.contentMu.Lock()
		return func() { a.dir.contentMu.Unlock() }
	}
	pa := uintptr(unsafe.Pointer(a.dir))
	pb := uintptr(unsafe.Pointer(b.dir))
	first, second := a, b
	if pb < pa {
		first, second = b, a
	}
	first.dir.contentMu.Lock()
	second.dir.contentMu.Lock()
	return func() {
		second.dir.contentMu.Unlock()
		first.dir.contentMu.Unlock()
	}
}

// Rename moves oldName under oldDir to newName under newDir (spec §4.1
// "rename"); oldDir is the receiver.
//
// GetByKeyLatch takes the node table's shard latch, so it must never run
// while either directory's content_lock is held (spec §5: shard latch
// before content lock, never nested the other way round). Below, every
// GetByKeyLatch call sits strictly between a lockTwoDirs unlock and the
// next lock, not inside one.
func (oldDir *Entry) Rename(ctx context.Context, opCtx OpContext, oldName string, newDir *Entry, newName string) status.Status {
	unlock := lockTwoDirs(oldDir, newDir)

	srcD, srcOk := oldDir.dir.nameTree.Get(direntNameKey(oldName))
	if !srcOk {
		unlock()
		return status.NotFound()
	}

	var dstKey key.K
	var dstExists, sameObject bool
	if dstD, dstOk := newDir.dir.nameTree.Get(direntNameKey(newName)); dstOk {
		if dstD.ckey.Equal(srcD.ckey) {
			sameObject = true
		} else {
			dstKey, dstExists = dstD.ckey, true
		}
	}
	unlock()
	if sameObject {
		return status.Ok() // same object: no-op (spec §8 boundary behaviour)
	}

	var dstJunction bool
	if dstExists {
		if dstChild, found := oldDir.table.GetByKeyLatch(dstKey); found {
			dstJunction = dstChild.flags.any(flagJunction)
			dstChild.PutRef()
		}
	}
	if dstJunction {
		return status.CrossDevice() // spec §8 "rename onto a junction returns XDEV"
	}

	// Sub-provider calls must never run under the shard/content locks.
	if err := oldDir.table.provider.Rename(withExport(ctx, opCtx), oldDir.Handle(), oldName, newDir.Handle(), newName); err != nil {
		return status.FromProviderError(err)
	}

	renameChangesKey := oldDir.table.provider.Supports(provider.FeatureRenameChangesKey)

	unlock = lockTwoDirs(oldDir, newDir)

	srcD, srcOk = oldDir.dir.nameTree.Get(direntNameKey(oldName))
	var movedKey = srcD.ckey
	if srcOk {
		oldDir.removeDirentLocked(srcD)
	}
	if dstD, dstOk := newDir.dir.nameTree.Get(direntNameKey(newName)); dstOk {
		newDir.removeDirentLocked(dstD)
	}

	oldDir.attrMu.Lock()
	oldDir.flags.clear(flagTrustAttrs)
	oldDir.attrMu.Unlock()
	if newDir != oldDir {
		newDir.attrMu.Lock()
		newDir.flags.clear(flagTrustAttrs)
		newDir.attrMu.Unlock()
	}
	unlock()

	moved, found := oldDir.table.GetByKeyLatch(movedKey)
	if !found {
		return status.Ok()
	}
	defer moved.PutRef()

	moved.attrMu.Lock()
	moved.flags.clear(flagTrustAttrs)
	moved.attrMu.Unlock()

	if renameChangesKey {
		moved.flags.set(flagUnreachable)
		return status.Ok()
	}

	nd := &Dirent{name: newName, ckey: movedKey}
	newDir.dir.contentMu.Lock()
	newDir.dir.nameTree.ReplaceOrInsert(nd)
	newDir.placeDirent(ctx, nd)
	newDir.dir.contentMu.Unlock()

	if moved.typ.IsDirectory() && newDir != oldDir {
		moved.dir.contentMu.Lock()
		moved.dir.parentKey = newDir.key
		moved.dir.contentMu.Unlock()
	}

	return status.Ok()
}
