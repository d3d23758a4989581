package cache

import (
	"context"

	"github.com/mdcachefs/mdcache/provider"
	"github.com/mdcachefs/mdcache/status"
)

// ReaddirCallback is invoked once per directory entry a readdir call
// produces (spec §4.1 "readdir"). Returning a control value other than
// DirContinue steers the traversal the same way it steers the underlying
// sub-provider stream.
type ReaddirCallback func(name string, child *Entry, attrs provider.Attrs, cookie uint64) provider.ReaddirControl

// reservedCookie reports whether ck names one of the two cookies reserved
// for "." and ".." (spec §8 "readdir with whence in {1,2} returns
// BADCOOKIE").
func reservedCookie(ck uint64) bool { return ck == 1 || ck == 2 }

// Readdir dispatches to one of the three modes spec §4.1 describes:
// bypass (uncached), chunked, or full population.
func (e *Entry) Readdir(ctx context.Context, opCtx OpContext, whence uint64, cb ReaddirCallback) (eod bool, st status.Status) {
	if e.typ != provider.Directory {
		return false, status.NotADirectory()
	}
	if reservedCookie(whence) {
		return false, status.BadDirCookie()
	}

	if e.flags.any(flagBypassDirCache) {
		return e.readdirUncached(ctx, opCtx, whence, cb)
	}
	if e.table.cfg.AvlChunk > 0 {
		return e.readdirChunked(ctx, opCtx, whence, cb)
	}
	return e.readdirFullPopulation(ctx, opCtx, whence, cb)
}

// readdirUncached streams directly from the sub-provider, materialising a
// cache node for each entry inline but never touching this directory's
// own content cache (spec §4.1 "readdir_uncached").
func (e *Entry) readdirUncached(ctx context.Context, opCtx OpContext, whence uint64, cb ReaddirCallback) (bool, status.Status) {
	eod, err := e.table.provider.Readdir(withExport(ctx, opCtx), e.Handle(), cookieBytes(whence), func(do provider.DirentOut) provider.ReaddirControl {
		child, st := e.table.LocateHost(ctx, do.Handle, do.Attrs.Type, do.Attrs)
		if !st.Ok() {
			return provider.DirContinue
		}
		defer child.PutRef()
		return cb(do.Name, child, do.Attrs, do.Cookie)
	})
	if err != nil {
		return false, status.FromProviderError(err)
	}
	return eod, status.Ok()
}

// readdirFullPopulation implements spec §4.5.4 plus the §4.1 wrapper that
// retries uncached on OVERFLOW.
func (e *Entry) readdirFullPopulation(ctx context.Context, opCtx OpContext, whence uint64, cb ReaddirCallback) (bool, status.Status) {
	if !(e.flags.has(flagTrustContent) && e.flags.has(flagDirPopulated)) {
		st := e.populateFull(ctx, opCtx)
		if st.Major == status.Overflow {
			e.flags.set(flagBypassDirCache)
			e.invalidateContent()
			return e.readdirUncached(ctx, opCtx, whence, cb)
		}
		if !st.Ok() {
			return false, st
		}
	}
	return e.walkFullPopulation(ctx, whence, cb)
}

// populateFull adds every entry of the directory into name_tree /
// cookie_tree in a single sub-provider readdir pass (spec §4.5.4
// "add_cache"), assigning cookies in stream order starting at 3 (1 and 2
// are reserved).
func (e *Entry) populateFull(ctx context.Context, opCtx OpContext) status.Status {
	e.dir.contentMu.Lock()
	defer e.dir.contentMu.Unlock()

	var nextCookie uint64 = 3
	var overflow bool
	providerEod, err := e.table.provider.Readdir(withExport(ctx, opCtx), e.Handle(), nil, func(do provider.DirentOut) provider.ReaddirControl {
		if uint32(e.dir.nameTree.Len()) >= e.table.cfg.AvlMax {
			overflow = true
			return provider.DirTerminate
		}
		child, st := e.table.LocateHost(ctx, do.Handle, do.Attrs.Type, do.Attrs)
		if !st.Ok() {
			return provider.DirContinue
		}
		d := &Dirent{name: do.Name, ckey: child.key, cookie: nextCookie, sorted: true}
		nextCookie++
		e.dir.nameTree.ReplaceOrInsert(d)
		e.dir.cookieTree.ReplaceOrInsert(d)
		child.PutRef()
		return provider.DirContinue
	})
	if overflow {
		return status.DirOverflow()
	}
	if err != nil {
		return status.FromProviderError(err)
	}
	if !providerEod && e.table.cfg.RetryReaddir {
		return status.TryAgain()
	}

	e.flags.set(flagTrustContent | flagDirPopulated)
	return status.Ok()
}

// walkFullPopulation iterates the already-populated cookie_tree from
// whence, refreshing each child's attributes before invoking cb (spec
// §4.1 "walk the name tree from whence ... do a full getattrs").
func (e *Entry) walkFullPopulation(ctx context.Context, whence uint64, cb ReaddirCallback) (bool, status.Status) {
	e.dir.contentMu.RLock()
	var dirents []*Dirent
	e.dir.cookieTree.AscendFrom(direntCookieKey(whence), func(d *Dirent) bool {
		dirents = append(dirents, d)
		return true
	})
	e.dir.contentMu.RUnlock()

	eod := true
	for _, d := range dirents {
		if d.cookie == whence {
			continue
		}
		child, found := e.table.GetByKeyLatch(d.ckey)
		if !found {
			continue
		}
		attrs, _ := child.RefreshAttrs(ctx)
		ctl := cb(d.name, child, attrs, d.cookie)
		child.PutRef()
		switch ctl {
		case provider.DirTerminate:
			eod = false
		default:
		}
		if ctl == provider.DirTerminate {
			break
		}
	}
	return eod, status.Ok()
}

// cookieBytes encodes a readdir continuation cookie as an opaque whence
// token for providers that don't expose FeatureWhenceIsName.
func cookieBytes(ck uint64) []byte {
	if ck == 0 {
		return nil
	}
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(ck >> (8 * i))
	}
	return b
}
