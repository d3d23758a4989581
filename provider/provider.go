// Package provider declares the sub-provider contract the metadata cache
// consumes (spec §6.2). A sub-provider is the actual file-system driver
// behind the cache; the cache never assumes anything about it beyond this
// interface.
package provider

import (
	"context"
	"io"
	"time"

	"github.com/mdcachefs/mdcache/status"
)

// ObjType is the type of a cached object (spec §3).
type ObjType int

const (
	Regular ObjType = iota
	Directory
	Symlink
	BlockDev
	CharDev
	Fifo
	Socket
)

// IsDirectory reports whether t names a directory.
func (t ObjType) IsDirectory() bool { return t == Directory }

// Feature names the cache tests for with Supports (spec §6.2).
type Feature string

const (
	// FeatureRenameChangesKey: the provider mutates the underlying handle on
	// rename, so the cache must treat the moved object as unreachable under
	// its old key rather than rewrite the key in place.
	FeatureRenameChangesKey Feature = "rename_changes_key"
	// FeatureComputeReaddirCookie: the provider can compute the readdir
	// cookie for a given (parent, name) pair without a directory scan.
	FeatureComputeReaddirCookie Feature = "compute_readdir_cookie"
	// FeatureWhenceIsName: readdir continuation tokens are names rather than
	// opaque cookies.
	FeatureWhenceIsName Feature = "whence_is_name"
)

// Handle is an opaque sub-provider object reference. The cache holds exactly
// one Handle per live Entry and releases it exactly once (spec §3 invariant 8).
type Handle interface {
	// Key returns the opaque bytes the cache hashes and compares for
	// identity (spec §3). Two handles that the provider considers the same
	// object must return byte-identical Key.
	Key() []byte
}

// Attrs is the subset of object metadata the cache memoises (spec §3, §4.1).
type Attrs struct {
	Type           ObjType
	Size           uint64
	Mode           uint32
	Uid, Gid       uint32
	Nlink          uint32
	Atime, Mtime, Ctime time.Time
	Change         uint64
	Fileid         uint64
	RequestMask    uint64
	// ExpireTimeAttr is the provider's own opinion on attribute TTL, if any;
	// zero means "use the export default" (spec §4.4 "attach attributes").
	ExpireTimeAttr time.Time
	// IsJunction marks an object that is a mount point into another export;
	// renames across junctions are rejected (spec §4.1 "rename", GLOSSARY).
	IsJunction bool
}

// ACL is an opaque, ref-counted, lazily fetched access control list
// (spec §3). The cache never interprets its contents.
type ACL struct {
	Data []byte
}

// MaskACL is the request-mask bit a caller sets to ask for the ACL along
// with the rest of an object's attributes (spec §3 "ACL ... lazily
// fetched"). It's the cache's own bit, not a sub-provider wire value, so it
// lives in the high end of the mask word away from any FSAL-defined
// attribute bits a real provider might reuse for the rest of the mask.
const MaskACL uint64 = 1 << 63

// DirentOut is one entry streamed back from Readdir (spec §4.5.2).
type DirentOut struct {
	Name   string
	Handle Handle
	Attrs  Attrs
	Cookie uint64
}

// ReaddirControl is returned by the per-entry readdir callback to tell the
// provider stream whether to keep going (spec §4.5.2, §4.1 readdir modes).
type ReaddirControl int

const (
	DirContinue ReaddirControl = iota
	DirReadahead
	DirTerminate
)

// ReaddirCallback is invoked once per entry during a provider Readdir call.
type ReaddirCallback func(DirentOut) ReaddirControl

// CreateHandleResult is what the provider returns to manufacture a handle
// from a wire-format child reference (spec §4.2 locate_host).
type CreateHandleResult struct {
	Handle Handle
	Attrs  Attrs
}

// Export is the read-only per-mount context the cache is handed for every
// operation (spec §1 "export lifecycle... consumed as a read-only context").
// The cache never mutates it.
type Export struct {
	ID                int64
	Unexported        bool
	DefaultAttrExpiry time.Duration
	RequestedMask     uint64
}

// Provider is the sub-provider contract (spec §6.2). All methods may block;
// none may be called while the cache holds its shard latch (spec §5).
type Provider interface {
	Lookup(ctx context.Context, parent Handle, name string) (Handle, Attrs, error)
	Create(ctx context.Context, parent Handle, name string, mode uint32) (Handle, Attrs, error)
	Mkdir(ctx context.Context, parent Handle, name string, mode uint32) (Handle, Attrs, error)
	Mknode(ctx context.Context, parent Handle, name string, typ ObjType, mode uint32) (Handle, Attrs, error)
	Symlink(ctx context.Context, parent Handle, name, target string) (Handle, Attrs, error)
	Readlink(ctx context.Context, h Handle) (target string, err error)
	Link(ctx context.Context, destParent Handle, name string, target Handle) (Attrs, error)
	Unlink(ctx context.Context, parent Handle, name string) error
	Rename(ctx context.Context, oldParent Handle, oldName string, newParent Handle, newName string) error
	// Readdir streams entries via cb starting at whence, returning whether
	// end-of-directory was reached (spec §4.5.2).
	Readdir(ctx context.Context, dir Handle, whence []byte, cb ReaddirCallback) (eod bool, err error)

	// ComputeReaddirCookie derives the cookie a directory stream would
	// assign to (parent, name) without a directory scan. ok is false when
	// the provider doesn't support this (spec §4.5.1 step 1, feature
	// FeatureComputeReaddirCookie).
	ComputeReaddirCookie(ctx context.Context, parent Handle, name string) (cookie uint64, ok bool)

	GetAttrs(ctx context.Context, h Handle, mask uint64) (Attrs, error)
	SetAttrs(ctx context.Context, h Handle, attrs Attrs, mask uint64) (Attrs, error)
	SetAttr2(ctx context.Context, h Handle, attrs Attrs, mask uint64, bypassRefresh bool) (Attrs, error)

	// GetACL fetches an object's access control list. The cache only calls
	// this when a caller's request mask actually asks for it (spec §3 "ACL
	// ... lazily fetched").
	GetACL(ctx context.Context, h Handle) (ACL, error)

	Open(ctx context.Context, h Handle, flags int) (io.Closer, error)
	Read(ctx context.Context, h Handle, offset int64, p []byte) (int, error)
	Write(ctx context.Context, h Handle, offset int64, p []byte) (int, error)
	Commit(ctx context.Context, h Handle, offset int64, length int64) error

	LockOp(ctx context.Context, h Handle, req LockRequest) (LockResult, error)
	LayoutGet(ctx context.Context, h Handle) (Layout, error)
	LayoutReturn(ctx context.Context, h Handle, l Layout) error
	LayoutCommit(ctx context.Context, h Handle, l Layout) error

	HandleToWire(h Handle) ([]byte, error)
	HandleToKey(h Handle) []byte
	HandleCmp(a, b Handle) bool
	HandleIs(h Handle, typ ObjType) bool
	// Merge reconciles a losing handle into the winner of a create race
	// (spec §4.2, §4.4 "merge").
	Merge(ctx context.Context, winner, loser Handle) error
	Release(h Handle) error

	ListXattr(ctx context.Context, h Handle) ([]string, error)
	GetXattr(ctx context.Context, h Handle, name string) ([]byte, error)
	SetXattr(ctx context.Context, h Handle, name string, value []byte) error
	RemoveXattr(ctx context.Context, h Handle, name string) error

	// --- export operations ---

	LookupPath(ctx context.Context, path string) (Handle, Attrs, error)
	CreateHandle(ctx context.Context, wire []byte, export Export) (CreateHandleResult, error)
	HostToKey(wire []byte) []byte
	FSSupportedAttrs(export Export) uint64
	Supports(feature Feature) bool
}

// LockRequest/LockResult/Layout are forwarded untouched (spec §1 "state for
// open files, delegations, pNFS layouts... the cache simply forwards
// these"); the cache never interprets their contents.
type LockRequest struct {
	Owner  string
	Start  uint64
	Length uint64
	Exclusive bool
}

type LockResult struct {
	Granted bool
}

type Layout struct {
	Opaque []byte
}

// NotFoundError is returned by Provider methods when the named object does
// not exist; the cache treats it specially in lookup (spec §4.1).
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string { return "not found: " + e.Name }

// Major lets status.FromProviderError classify a NotFoundError (spec §7
// "not found").
func (e *NotFoundError) Major() status.Major { return status.NoEnt }

// StaleError is returned when the provider's handle is no longer valid
// (spec §4.4 "kill", §7 "stale").
type StaleError struct {
	Cause error
}

func (e *StaleError) Error() string {
	if e.Cause != nil {
		return "stale handle: " + e.Cause.Error()
	}
	return "stale handle"
}

// Major lets status.FromProviderError classify a StaleError (spec §7
// "stale").
func (e *StaleError) Major() status.Major { return status.Stale }
