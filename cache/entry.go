package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mdcachefs/mdcache/dirtree"
	"github.com/mdcachefs/mdcache/key"
	"github.com/mdcachefs/mdcache/lru"
	"github.com/mdcachefs/mdcache/provider"
)

// aclRef is a ref-counted, lazily fetched ACL (spec §3). A refresh of the
// underlying attributes marks the current ref stale rather than dropping
// it outright, so a fetch already in flight (or a caller still holding a
// reference from GetACL) finishes against the ref it started with instead
// of racing a concurrent SetAttrs (original_source mdcache_handle.c).
type aclRef struct {
	acl      provider.ACL
	fetched  bool
	stale    bool
	refcount int32
}

// Entry is the cached object wrapping one sub-provider handle (spec §3).
// At most one Entry exists per distinct Key while it is reachable through
// the node table.
type Entry struct {
	key key.K // immutable once published

	table *Table

	// handleMu guards reads of handle. The handle is set when the entry is
	// built and never replaced: a lost create race merges the loser's
	// handle into this one and releases the loser.
	handleMu sync.Mutex
	handle   provider.Handle

	typ provider.ObjType

	flags flagBits

	// attrMu guards attrs, requestMask, expireTimeAttr, the TRUST_ATTRS bit,
	// acl, and the export list/firstExportID (spec §5).
	attrMu         sync.RWMutex
	attrs          provider.Attrs
	requestMask    uint64
	expireTimeAttr time.Time
	acl            *aclRef
	// symlinkTarget caches Readlink's result (spec §4.1 "readlink"); valid
	// iff flagTrustContent is set. Symlink targets are immutable once
	// created, so attrMu is a fine lock for them without a dedicated one.
	symlinkTarget string

	exports       []exportMap
	firstExportID atomic.Int64

	// refcount combines the sentinel count (1 while the key is in the hash
	// table) and per-caller counts (spec §3 invariant 1).
	refcount atomic.Int64

	lruElem *lru.Elem[*Entry]

	// dir is non-nil iff typ == provider.Directory (spec §3).
	dir *dirState
}

// dirState is the directory-only content cache (spec §3, §4.5). Everything
// in it is guarded by contentMu except detached/detachedCount, which
// have their own spin lock (spec §5).
type dirState struct {
	contentMu sync.RWMutex

	nameTree    *dirtree.Tree[*Dirent]
	cookieTree  *dirtree.Tree[*Dirent]
	deletedTree *dirtree.Tree[*Dirent]

	chunks []*Chunk // ordered sequence, spec §3

	detachedMu    sync.Mutex // spec §5 "per-directory spin lock"
	detached      *list.List // MRU list of *Dirent not in any chunk
	detachedCount int

	firstCookie uint64
	parentKey   key.K

	createRefcount atomic.Int32
}

func newDirState() *dirState {
	return &dirState{
		nameTree:    dirtree.New(direntLessByName),
		cookieTree:  dirtree.New(direntLessByCookie),
		deletedTree: dirtree.New(direntLessByName),
		detached:    list.New(),
	}
}

func newEntry(t *Table, k key.K, h provider.Handle, typ provider.ObjType) *Entry {
	e := &Entry{
		table:  t,
		key:    k,
		handle: h,
		typ:    typ,
	}
	if typ == provider.Directory {
		e.dir = newDirState()
	}
	return e
}

// Key returns the entry's node-table key.
func (e *Entry) Key() key.K { return e.key }

// Type returns the cached object type.
func (e *Entry) Type() provider.ObjType { return e.typ }

// Handle returns the current sub-provider handle. Callers must not retain
// it past a Merge/Kill on this entry.
func (e *Entry) Handle() provider.Handle {
	e.handleMu.Lock()
	defer e.handleMu.Unlock()
	return e.handle
}

// ref bumps the refcount, used both when publishing the sentinel reference
// and when handing a caller its initial reference (spec §3 invariant 1).
func (e *Entry) ref() {
	e.refcount.Add(1)
}

// unref drops the refcount by one, reporting whether it reached zero.
func (e *Entry) unref() bool {
	return e.refcount.Add(-1) == 0
}

// PutRef releases one reference obtained from any operation that returns
// an Entry (spec §6.1 "the caller releases via put_ref"). When the
// refcount reaches zero the entry is finalised (spec §4.4 "clean").
func (e *Entry) PutRef() {
	if e.unref() {
		e.table.finalize(e)
	}
}

func (e *Entry) isUnreachable() bool { return e.flags.any(flagUnreachable) }
