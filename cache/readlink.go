package cache

import (
	"context"

	"github.com/mdcachefs/mdcache/status"
)

// Readlink returns the symlink target, caching it once read (spec §4.1
// "readlink").
func (e *Entry) Readlink(ctx context.Context, opCtx OpContext) (string, status.Status) {
	e.attrMu.RLock()
	target := e.symlinkTarget
	trusted := e.flags.has(flagTrustContent)
	e.attrMu.RUnlock()
	if trusted {
		return target, status.Ok()
	}

	e.attrMu.Lock()
	defer e.attrMu.Unlock()
	if e.flags.has(flagTrustContent) {
		return e.symlinkTarget, status.Ok()
	}

	t, err := e.table.provider.Readlink(withExport(ctx, opCtx), e.Handle())
	if err != nil {
		if isStale(err) {
			e.scheduleKill()
		}
		return "", status.FromProviderError(err)
	}
	e.symlinkTarget = t
	e.flags.set(flagTrustContent)
	return t, status.Ok()
}
