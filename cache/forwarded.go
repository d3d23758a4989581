package cache

import (
	"context"
	"io"

	"github.com/mdcachefs/mdcache/provider"
	"github.com/mdcachefs/mdcache/status"
)

// TestAccess reports whether the credentials implied by opCtx may perform
// the access described by mask (spec §4.1 "test_access"): the owner always
// passes without consulting the sub-provider; anyone else falls back to a
// helper derived from cached attrs.
func (e *Entry) TestAccess(ctx context.Context, opCtx OpContext, uid uint32, mask uint64) status.Status {
	e.attrMu.RLock()
	owner := e.attrs.Uid
	mode := e.attrs.Mode
	e.attrMu.RUnlock()

	if owner == uid {
		return status.Ok()
	}
	if checkModeAccess(mode, mask) {
		return status.Ok()
	}
	return status.AccessDenied()
}

// checkModeAccess is the shared access-check helper spec §4.1 refers to:
// a conservative POSIX "other" bits check against cached attrs, since the
// cache doesn't itself resolve group membership.
func checkModeAccess(mode uint32, mask uint64) bool {
	const otherBits = 0o007
	return uint64(mode&otherBits) & mask == mask&uint64(otherBits)
}

// Open forwards to the sub-provider (spec §4.1 "open/close/read/write/...
// forwarded").
func (e *Entry) Open(ctx context.Context, opCtx OpContext, flags int) (io.Closer, status.Status) {
	h, err := e.table.provider.Open(withExport(ctx, opCtx), e.Handle(), flags)
	if err != nil {
		return nil, status.FromProviderError(err)
	}
	return h, status.Ok()
}

func (e *Entry) Read(ctx context.Context, opCtx OpContext, offset int64, p []byte) (int, status.Status) {
	n, err := e.table.provider.Read(withExport(ctx, opCtx), e.Handle(), offset, p)
	if err != nil {
		return n, status.FromProviderError(err)
	}
	return n, status.Ok()
}

// Write forwards to the sub-provider and clears TRUST_ATTRS, since size and
// mtime just changed (spec §4.1 "write-side operations clear TRUST_ATTRS").
func (e *Entry) Write(ctx context.Context, opCtx OpContext, offset int64, p []byte) (int, status.Status) {
	n, err := e.table.provider.Write(withExport(ctx, opCtx), e.Handle(), offset, p)
	e.attrMu.Lock()
	e.flags.clear(flagTrustAttrs)
	e.attrMu.Unlock()
	if err != nil {
		return n, status.FromProviderError(err)
	}
	return n, status.Ok()
}

func (e *Entry) Commit(ctx context.Context, opCtx OpContext, offset, length int64) status.Status {
	err := e.table.provider.Commit(withExport(ctx, opCtx), e.Handle(), offset, length)
	e.attrMu.Lock()
	e.flags.clear(flagTrustAttrs)
	e.attrMu.Unlock()
	return status.FromProviderError(err)
}

func (e *Entry) LockOp(ctx context.Context, opCtx OpContext, req provider.LockRequest) (provider.LockResult, status.Status) {
	res, err := e.table.provider.LockOp(withExport(ctx, opCtx), e.Handle(), req)
	return res, status.FromProviderError(err)
}

func (e *Entry) LayoutGet(ctx context.Context, opCtx OpContext) (provider.Layout, status.Status) {
	l, err := e.table.provider.LayoutGet(withExport(ctx, opCtx), e.Handle())
	return l, status.FromProviderError(err)
}

func (e *Entry) LayoutReturn(ctx context.Context, opCtx OpContext, l provider.Layout) status.Status {
	return status.FromProviderError(e.table.provider.LayoutReturn(withExport(ctx, opCtx), e.Handle(), l))
}

// LayoutCommit clears TRUST_ATTRS on success (spec §4.1 "layoutcommit
// clears TRUST_ATTRS on success").
func (e *Entry) LayoutCommit(ctx context.Context, opCtx OpContext, l provider.Layout) status.Status {
	err := e.table.provider.LayoutCommit(withExport(ctx, opCtx), e.Handle(), l)
	if err == nil {
		e.attrMu.Lock()
		e.flags.clear(flagTrustAttrs)
		e.attrMu.Unlock()
	}
	return status.FromProviderError(err)
}

func (e *Entry) ListXattr(ctx context.Context, opCtx OpContext) ([]string, status.Status) {
	names, err := e.table.provider.ListXattr(withExport(ctx, opCtx), e.Handle())
	return names, status.FromProviderError(err)
}

func (e *Entry) GetXattr(ctx context.Context, opCtx OpContext, name string) ([]byte, status.Status) {
	v, err := e.table.provider.GetXattr(withExport(ctx, opCtx), e.Handle(), name)
	return v, status.FromProviderError(err)
}

func (e *Entry) SetXattr(ctx context.Context, opCtx OpContext, name string, value []byte) status.Status {
	err := e.table.provider.SetXattr(withExport(ctx, opCtx), e.Handle(), name, value)
	return status.FromProviderError(err)
}

func (e *Entry) RemoveXattr(ctx context.Context, opCtx OpContext, name string) status.Status {
	err := e.table.provider.RemoveXattr(withExport(ctx, opCtx), e.Handle(), name)
	return status.FromProviderError(err)
}
