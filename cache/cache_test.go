package cache_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mdcachefs/mdcache/cache"
	"github.com/mdcachefs/mdcache/cache/cachefake"
	"github.com/mdcachefs/mdcache/clock"
	"github.com/mdcachefs/mdcache/provider"
	"github.com/mdcachefs/mdcache/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T, cfg cache.Config) (*cache.Table, *cachefake.Provider) {
	t.Helper()
	prov := cachefake.New()
	tbl := cache.NewTable(cfg, clock.RealClock{}, nil, nil, prov, 1)
	return tbl, prov
}

func rootEntry(t *testing.T, ctx context.Context, tbl *cache.Table, prov *cachefake.Provider) *cache.Entry {
	t.Helper()
	h := prov.Root()
	attrs, err := prov.GetAttrs(ctx, h, ^uint64(0))
	require.NoError(t, err)
	e, st := tbl.LocateHost(ctx, h, provider.Directory, attrs)
	require.True(t, st.Ok(), "locate root: %v", st)
	return e
}

var testExport = provider.Export{ID: 1, DefaultAttrExpiry: time.Minute}

func testOpCtx() cache.OpContext {
	return cache.OpContext{Export: testExport, RequestMask: ^uint64(0)}
}

// scenario seed 1: mkdir clears the parent's TRUST_ATTRS (spec §8).
func TestMkdirClearsParentTrustAttrs(t *testing.T) {
	ctx := context.Background()
	tbl, prov := newTestTable(t, cache.DefaultConfig())
	root := rootEntry(t, ctx, tbl, prov)
	defer root.PutRef()
	opCtx := testOpCtx()

	// Populate and trust root's attrs before the mutation.
	_, st := root.GetAttrs(ctx, opCtx, ^uint64(0))
	require.True(t, st.Ok())

	child, st := root.Mkdir(ctx, opCtx, "a", 0755)
	require.True(t, st.Ok())
	defer child.PutRef()

	// TRUST_ATTRS must now be clear: GetAttrs should go back to the
	// sub-provider, and a faulted getattrs proves it did.
	prov.SetFault("getattrs", fmt.Errorf("boom"))
	_, st = root.GetAttrs(ctx, opCtx, ^uint64(0))
	assert.Equal(t, status.IO, st.Major)
}

// scenario seed 3: a full chunked readdir from whence=0 returns every
// dirent in ascending cookie order and reports end-of-directory.
func TestReaddirChunkedCookieOrderAndEod(t *testing.T) {
	ctx := context.Background()
	tbl, prov := newTestTable(t, cache.DefaultConfig())
	root := rootEntry(t, ctx, tbl, prov)
	defer root.PutRef()
	opCtx := testOpCtx()

	child, st := root.Mkdir(ctx, opCtx, "a", 0755)
	require.True(t, st.Ok())
	child.PutRef()

	const n = 50
	for i := 0; i < n; i++ {
		c, st := root.Create(ctx, opCtx, fmt.Sprintf("f%02d", i), 0644)
		require.True(t, st.Ok())
		c.PutRef()
	}

	var (
		names   []string
		cookies []uint64
	)
	eod, st := root.Readdir(ctx, opCtx, 0, func(name string, e *cache.Entry, attrs provider.Attrs, cookie uint64) provider.ReaddirControl {
		names = append(names, name)
		cookies = append(cookies, cookie)
		return provider.DirContinue
	})
	require.True(t, st.Ok())
	assert.True(t, eod)
	require.Len(t, names, n+1)

	for i := 1; i < len(cookies); i++ {
		assert.Less(t, cookies[i-1], cookies[i], "cookies must be strictly ascending")
	}

	// Negative lookup after a full pass is answered from cache (spec §8
	// scenario seed 5 preconditions: TRUST_CONTENT and DIR_POPULATED).
	prov.SetFault("lookup", fmt.Errorf("should not be called"))
	_, lst := root.Lookup(ctx, opCtx, "does-not-exist")
	assert.Equal(t, status.NoEnt, lst.Major)
}

// scenario seed 4/5: chunked rename replaces the dirent in place and two
// subsequent lookups return the identical node; unlink then negative
// lookup avoids a sub-provider round trip.
func TestRenameThenUnlinkThenNegativeLookup(t *testing.T) {
	ctx := context.Background()
	tbl, prov := newTestTable(t, cache.DefaultConfig())
	root := rootEntry(t, ctx, tbl, prov)
	defer root.PutRef()
	opCtx := testOpCtx()

	for i := 0; i < 10; i++ {
		c, st := root.Create(ctx, opCtx, fmt.Sprintf("f%d", i), 0644)
		require.True(t, st.Ok())
		c.PutRef()
	}

	// Populate the full directory content cache first.
	_, st := root.Readdir(ctx, opCtx, 0, func(string, *cache.Entry, provider.Attrs, uint64) provider.ReaddirControl {
		return provider.DirContinue
	})
	require.True(t, st.Ok())

	st2 := root.Rename(ctx, opCtx, "f5", root, "f5_renamed")
	require.True(t, st2.Ok(), "rename: %v", st2)

	first, st := root.Lookup(ctx, opCtx, "f5_renamed")
	require.True(t, st.Ok())
	second, st := root.Lookup(ctx, opCtx, "f5_renamed")
	require.True(t, st.Ok())
	assert.Same(t, first, second, "two lookups after rename must return the same node")
	first.PutRef()
	second.PutRef()

	st3 := root.Unlink(ctx, opCtx, "f5_renamed")
	require.True(t, st3.Ok(), "unlink: %v", st3)

	prov.SetFault("lookup", fmt.Errorf("should not be called"))
	_, st4 := root.Lookup(ctx, opCtx, "f5_renamed")
	assert.Equal(t, status.NoEnt, st4.Major)
}

// rename with source and destination naming the same object is a no-op
// and never reaches the sub-provider (spec §8 boundary behaviours).
func TestRenameSameObjectIsNoop(t *testing.T) {
	ctx := context.Background()
	tbl, prov := newTestTable(t, cache.DefaultConfig())
	root := rootEntry(t, ctx, tbl, prov)
	defer root.PutRef()
	opCtx := testOpCtx()

	c, st := root.Create(ctx, opCtx, "same", 0644)
	require.True(t, st.Ok())
	c.PutRef()

	prov.SetFault("rename", fmt.Errorf("should not be called"))
	st = root.Rename(ctx, opCtx, "same", root, "same")
	assert.True(t, st.Ok(), "rename onto self: %v", st)
}

// rename onto a junction returns XDEV without calling the sub-provider's
// Rename (spec §8 boundary behaviours).
func TestRenameOntoJunctionReturnsXDev(t *testing.T) {
	ctx := context.Background()
	tbl, prov := newTestTable(t, cache.DefaultConfig())
	root := rootEntry(t, ctx, tbl, prov)
	defer root.PutRef()
	opCtx := testOpCtx()

	src, st := root.Create(ctx, opCtx, "src", 0644)
	require.True(t, st.Ok())
	defer src.PutRef()

	dst, st := root.Mkdir(ctx, opCtx, "dst", 0755)
	require.True(t, st.Ok())
	defer dst.PutRef()

	prov.SetJunction(dst.Handle(), true)
	_, rst := dst.RefreshAttrsMasked(ctx, opCtx, ^uint64(0))
	require.True(t, rst.Ok())

	prov.SetFault("rename", fmt.Errorf("should not be called"))
	st = root.Rename(ctx, opCtx, "src", root, "dst")
	assert.Equal(t, status.XDev, st.Major)
}

// readdir with whence in {1, 2} is reserved for "." and ".." and must
// return BADCOOKIE (spec §8 boundary behaviours).
func TestReaddirReservedWhenceReturnsBadCookie(t *testing.T) {
	ctx := context.Background()
	tbl, prov := newTestTable(t, cache.DefaultConfig())
	root := rootEntry(t, ctx, tbl, prov)
	defer root.PutRef()
	opCtx := testOpCtx()

	for _, whence := range []uint64{1, 2} {
		_, st := root.Readdir(ctx, opCtx, whence, func(string, *cache.Entry, provider.Attrs, uint64) provider.ReaddirControl {
			return provider.DirContinue
		})
		assert.Equal(t, status.BadCookie, st.Major)
	}
}

// unlink of a non-empty directory returns NOTEMPTY and invalidates that
// directory's own dirent cache so a retry after emptying it sees fresh
// content (spec §8 boundary behaviours).
func TestUnlinkNonEmptyDirReturnsNotEmpty(t *testing.T) {
	ctx := context.Background()
	tbl, prov := newTestTable(t, cache.DefaultConfig())
	root := rootEntry(t, ctx, tbl, prov)
	defer root.PutRef()
	opCtx := testOpCtx()

	dir, st := root.Mkdir(ctx, opCtx, "d", 0755)
	require.True(t, st.Ok())
	defer dir.PutRef()

	inner, st := dir.Create(ctx, opCtx, "child", 0644)
	require.True(t, st.Ok())
	inner.PutRef()

	st = root.Unlink(ctx, opCtx, "d")
	assert.Equal(t, status.NotEmpty, st.Major)
}

// scenario seed 6: a STALE getattrs marks the entry UNREACHABLE; once its
// last reference drops it is killed, and the next lookup produces a fresh,
// distinct node (spec §8).
func TestStaleGetAttrsProducesFreshEntryOnNextLookup(t *testing.T) {
	ctx := context.Background()
	tbl, prov := newTestTable(t, cache.DefaultConfig())
	root := rootEntry(t, ctx, tbl, prov)
	defer root.PutRef()
	opCtx := testOpCtx()

	child, st := root.Mkdir(ctx, opCtx, "a", 0755)
	require.True(t, st.Ok())
	child.PutRef()

	found, st := root.Lookup(ctx, opCtx, "a")
	require.True(t, st.Ok())

	prov.SetFault("getattrs", &provider.StaleError{})
	_, st = found.RefreshAttrs(ctx)
	assert.Equal(t, status.Stale, st.Major)

	found.PutRef() // drop the last reference: entry is now killed

	fresh, st := root.Lookup(ctx, opCtx, "a")
	require.True(t, st.Ok())
	defer fresh.PutRef()
	assert.NotSame(t, found, fresh, "a fresh lookup after STALE must produce a distinct node")
}

// ACL is fetched from the sub-provider at most once across repeated
// requests, and a subsequent attribute refresh forces the next GetACL back
// to the sub-provider (spec §3 "ACL lazy-fetch and ref-counting").
func TestACLFetchedOnceAndRefreshedOnAttrChange(t *testing.T) {
	ctx := context.Background()
	tbl, prov := newTestTable(t, cache.DefaultConfig())
	root := rootEntry(t, ctx, tbl, prov)
	defer root.PutRef()
	opCtx := testOpCtx()

	child, st := root.Mkdir(ctx, opCtx, "a", 0755)
	require.True(t, st.Ok())
	defer child.PutRef()

	prov.SetACL(child.Handle(), []byte("acl-v1"))

	acl1, st := child.GetACL(ctx, opCtx)
	require.True(t, st.Ok())
	assert.Equal(t, []byte("acl-v1"), acl1.Data)
	child.PutACL()

	// Second fetch must come from the cache: fault the provider and confirm
	// it's never called again.
	prov.SetFault("getacl", fmt.Errorf("should not be called"))
	acl2, st := child.GetACL(ctx, opCtx)
	require.True(t, st.Ok())
	assert.Equal(t, []byte("acl-v1"), acl2.Data)
	child.PutACL()

	// An attribute refresh invalidates the cached ACL; the next GetACL must
	// reach the sub-provider again.
	prov.SetFault("getacl", nil)
	prov.SetACL(child.Handle(), []byte("acl-v2"))
	_, st = child.RefreshAttrs(ctx)
	require.True(t, st.Ok())

	acl3, st := child.GetACL(ctx, opCtx)
	require.True(t, st.Ok())
	assert.Equal(t, []byte("acl-v2"), acl3.Data)
	child.PutACL()
}

// two concurrent LocateHost misses for the same underlying object must
// publish exactly one Entry, never two (spec §3 invariant 1, §4.2
// create-race protocol).
func TestLocateHostConcurrentMissesProduceOneEntry(t *testing.T) {
	ctx := context.Background()
	tbl, prov := newTestTable(t, cache.DefaultConfig())
	root := rootEntry(t, ctx, tbl, prov)
	defer root.PutRef()

	rootHandle := prov.Root()
	_, _, err := prov.Create(ctx, rootHandle, "race", 0644)
	require.NoError(t, err)

	// Two independent handle instances for the same object, as if two
	// concurrent readdir/lookup calls each discovered it on their own.
	h1, attrs1, err := prov.Lookup(ctx, rootHandle, "race")
	require.NoError(t, err)
	h2, attrs2, err := prov.Lookup(ctx, rootHandle, "race")
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		e1, e2   *cache.Entry
		st1, st2 status.Status
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		e1, st1 = tbl.LocateHost(ctx, h1, provider.Regular, attrs1)
	}()
	go func() {
		defer wg.Done()
		<-start
		e2, st2 = tbl.LocateHost(ctx, h2, provider.Regular, attrs2)
	}()
	close(start)
	wg.Wait()

	require.True(t, st1.Ok(), "locate 1: %v", st1)
	require.True(t, st2.Ok(), "locate 2: %v", st2)
	assert.Same(t, e1, e2, "two concurrent misses for the same key must produce one Entry")
	e1.PutRef()
	e2.PutRef()
}
