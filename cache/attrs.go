package cache

import (
	"context"
	"time"

	"github.com/mdcachefs/mdcache/lru"
	"github.com/mdcachefs/mdcache/provider"
	"github.com/mdcachefs/mdcache/status"
)

// GetAttrs returns the cached attributes, refreshing them first if they've
// expired or the caller's mask asks for fields TRUST_ATTRS doesn't cover
// (spec §4.1 "getattrs").
func (e *Entry) GetAttrs(ctx context.Context, opCtx OpContext, mask uint64) (provider.Attrs, status.Status) {
	e.attrMu.RLock()
	valid := e.flags.has(flagTrustAttrs) && e.requestMask&mask == mask && !e.attrsExpiredLocked()
	attrs := e.attrs
	e.attrMu.RUnlock()
	if !valid {
		var st status.Status
		attrs, st = e.RefreshAttrsMasked(ctx, opCtx, mask)
		if !st.Ok() {
			return attrs, st
		}
	}
	if mask&provider.MaskACL != 0 {
		if st := e.warmACL(ctx, opCtx); !st.Ok() {
			return attrs, st
		}
	}
	return attrs, status.Ok()
}

func (e *Entry) attrsExpiredLocked() bool {
	return !e.expireTimeAttr.IsZero() && e.table.clk.Now().After(e.expireTimeAttr)
}

// RefreshAttrs unconditionally refetches attributes with the entry's last
// requested mask, used by readdir's per-call attribute snapshot (spec
// §4.1 "do a full getattrs to refresh per-call attribute snapshot").
func (e *Entry) RefreshAttrs(ctx context.Context) (provider.Attrs, status.Status) {
	e.attrMu.RLock()
	mask := e.requestMask
	e.attrMu.RUnlock()
	return e.RefreshAttrsMasked(ctx, OpContext{RequestMask: mask}, mask)
}

// RefreshAttrsMasked is refresh_attrs (spec §4.1, §4.4 "attach
// attributes"): fetches fresh attributes under the write lock, replaces
// them in place, and invalidates directory content if mtime moved forward.
func (e *Entry) RefreshAttrsMasked(ctx context.Context, opCtx OpContext, mask uint64) (provider.Attrs, status.Status) {
	e.attrMu.Lock()
	attrs, err := e.table.provider.GetAttrs(withExport(ctx, opCtx), e.Handle(), mask)
	if err != nil {
		e.attrMu.Unlock()
		if isStale(err) {
			e.scheduleKill()
		}
		return provider.Attrs{}, status.FromProviderError(err)
	}

	prevMtime := e.attrs.Mtime
	e.attrs = attrs
	e.requestMask = mask
	e.expireTimeAttr = e.computeExpiry(opCtx, attrs)
	if e.acl != nil {
		// Mark stale rather than drop: a caller mid-GetACL on the old ref,
		// or still holding one via refcount, finishes against it cleanly;
		// the next GetACL call fetches a fresh one regardless.
		e.acl.stale = true
	}
	e.flags.set(flagTrustAttrs)
	if attrs.IsJunction {
		e.flags.set(flagJunction)
	}
	e.attrMu.Unlock()

	if e.typ.IsDirectory() && attrs.Mtime.After(prevMtime) {
		e.invalidateContent()
	}
	return attrs, status.Ok()
}

// computeExpiry derives expire_time_attr from the sub-provider's own
// opinion if it gave one, else the export default, else the table default
// (spec §4.4 "attach attributes").
func (e *Entry) computeExpiry(opCtx OpContext, attrs provider.Attrs) time.Time {
	if !attrs.ExpireTimeAttr.IsZero() {
		return attrs.ExpireTimeAttr
	}
	ttl := opCtx.Export.DefaultAttrExpiry
	if ttl == 0 {
		ttl = e.table.cfg.DefaultExpireTimeAttr
	}
	if ttl == 0 {
		return time.Time{}
	}
	return e.table.clk.Now().Add(ttl)
}

// SetAttrs applies attrs under mask and refreshes the cached copy from the
// sub-provider's response (spec §4.1 "setattrs"). If the provider didn't
// move change itself, the cache bumps it by one so observers still see a
// distinct generation.
func (e *Entry) SetAttrs(ctx context.Context, opCtx OpContext, attrs provider.Attrs, mask uint64) (provider.Attrs, status.Status) {
	return e.setAttrsImpl(ctx, opCtx, attrs, mask, false)
}

// SetAttr2 is setattrs with the bypass-refresh option some front ends use
// after an open-with-attrs request (spec §4.1 "setattr2").
func (e *Entry) SetAttr2(ctx context.Context, opCtx OpContext, attrs provider.Attrs, mask uint64, bypassRefresh bool) (provider.Attrs, status.Status) {
	return e.setAttrsImpl(ctx, opCtx, attrs, mask, bypassRefresh)
}

func (e *Entry) setAttrsImpl(ctx context.Context, opCtx OpContext, attrs provider.Attrs, mask uint64, bypassRefresh bool) (provider.Attrs, status.Status) {
	var (
		result provider.Attrs
		err    error
	)
	if bypassRefresh {
		result, err = e.table.provider.SetAttr2(withExport(ctx, opCtx), e.Handle(), attrs, mask, true)
	} else {
		result, err = e.table.provider.SetAttrs(withExport(ctx, opCtx), e.Handle(), attrs, mask)
	}
	if err != nil {
		if isStale(err) {
			e.scheduleKill()
		}
		return provider.Attrs{}, status.FromProviderError(err)
	}

	e.attrMu.Lock()
	if result.Change == e.attrs.Change {
		result.Change++
	}
	e.attrs = result
	e.flags.set(flagTrustAttrs)
	e.attrMu.Unlock()

	return result, status.Ok()
}

// warmACL fetches and caches the ACL if it isn't already fresh, without
// taking a caller reference on it (spec §3 "getattrs ... fetches the ACL").
// A subsequent GetACL serves it from cache and takes its own reference.
func (e *Entry) warmACL(ctx context.Context, opCtx OpContext) status.Status {
	e.attrMu.RLock()
	fresh := e.acl != nil && e.acl.fetched && !e.acl.stale
	e.attrMu.RUnlock()
	if fresh {
		return status.Ok()
	}

	acl, err := e.table.provider.GetACL(withExport(ctx, opCtx), e.Handle())
	if err != nil {
		if isStale(err) {
			e.scheduleKill()
		}
		return status.FromProviderError(err)
	}

	e.attrMu.Lock()
	e.acl = &aclRef{acl: acl, fetched: true}
	e.attrMu.Unlock()
	return status.Ok()
}

// GetACL returns the entry's ACL, fetching it from the sub-provider only
// if it hasn't been fetched yet or the cached one was marked stale by an
// intervening attribute refresh (spec §3 "ACL lazy-fetch and
// ref-counting"). Callers must PutACL exactly once per successful call.
func (e *Entry) GetACL(ctx context.Context, opCtx OpContext) (provider.ACL, status.Status) {
	if st := e.warmACL(ctx, opCtx); !st.Ok() {
		return provider.ACL{}, st
	}
	e.attrMu.Lock()
	defer e.attrMu.Unlock()
	e.acl.refcount++
	return e.acl.acl, status.Ok()
}

// PutACL releases a reference obtained from GetACL.
func (e *Entry) PutACL() {
	e.attrMu.Lock()
	if e.acl != nil {
		e.acl.refcount--
	}
	e.attrMu.Unlock()
}

func isStale(err error) bool {
	_, ok := err.(*provider.StaleError)
	return ok
}

// scheduleKill marks e UNREACHABLE, removes it from the node table (dropping
// the sentinel reference) and pushes it toward finalisation (spec §4.4
// "kill": "sub-provider reports STALE ... schedule kill_entry after
// releasing locks").
func (e *Entry) scheduleKill() {
	e.flags.set(flagUnreachable)
	t := e.table
	sh := t.shardFor(e.key.Hash64)
	sh.mu.Lock()
	removed := removeFromBucket(sh, e)
	sh.mu.Unlock()
	if !removed {
		return
	}
	t.metrics.entriesLive.Dec()
	if e.unref() { // sentinel was the last reference
		t.lruEntries.Remove(e.lruElem)
		t.kill(e)
		return
	}
	// Callers still hold references; their last PutRef finalises it.
	t.lruEntries.Move(e.lruElem, lru.Cleanup)
}
