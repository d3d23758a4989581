package cache

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mdcachefs/mdcache/clock"
	"github.com/mdcachefs/mdcache/key"
	"github.com/mdcachefs/mdcache/lru"
	"github.com/mdcachefs/mdcache/provider"
	"github.com/mdcachefs/mdcache/status"
	"github.com/prometheus/client_golang/prometheus"
)

// shard is one latch-protected slice of the node table (spec §4.2, §5
// "per-shard latch"). Entries are bucketed by hash64 within the shard so a
// shard can hold more than one key without a full table-wide resize.
type shard struct {
	mu     sync.Mutex
	byHash map[uint64][]*Entry
}

// Table is the cache's keyed node table plus the reclaimers and shared
// context every Entry needs back (spec §4.2, §4.3).
type Table struct {
	shards    []shard
	shardMask uint64

	exports *exportRegistries

	lruEntries *lru.List[*Entry]
	lruChunks  *lru.List[*Chunk]

	cfg      Config
	clk      clock.Clock
	log      *slog.Logger
	metrics  *metrics
	provider provider.Provider

	providerID uint32
}

// NewTable builds an empty node table. shardCount is rounded up to the next
// power of two so shard selection is a mask instead of a modulo, matching
// the sharding style of the teacher's stat-cache sharding (spec §4.2).
func NewTable(cfg Config, clk clock.Clock, log *slog.Logger, reg prometheus.Registerer, prov provider.Provider, providerID uint32) *Table {
	if log == nil {
		log = discardLogger()
	}
	n := 1
	for n < cfg.TableShards {
		n <<= 1
	}
	t := &Table{
		shards:     make([]shard, n),
		shardMask:  uint64(n - 1),
		exports:    newExportRegistries(),
		lruEntries: lru.New[*Entry](),
		lruChunks:  lru.New[*Chunk](),
		cfg:        cfg,
		clk:        clk,
		log:        log,
		metrics:    newMetrics(reg),
		provider:   prov,
		providerID: providerID,
	}
	for i := range t.shards {
		t.shards[i].byHash = make(map[uint64][]*Entry)
	}
	return t
}

func (t *Table) shardFor(hash uint64) *shard {
	return &t.shards[hash&t.shardMask]
}

// FindKeyed looks up an existing Entry by key (spec §4.2 "keyed lookup").
// On success the returned Entry carries a fresh caller reference and has
// been bumped to the Active queue.
func (t *Table) FindKeyed(k key.K) (*Entry, bool) {
	sh := t.shardFor(k.Hash64)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for _, e := range sh.byHash[k.Hash64] {
		if e.key.Equal(k) {
			e.ref()
			t.lruEntries.Move(e.lruElem, lru.Active)
			return e, true
		}
	}
	return nil, false
}

// publishLocked inserts a freshly built Entry into the table under its key,
// taking the sentinel reference that keeps it alive while it is reachable
// (spec §3 invariant 1, §4.4 "allocate"/"publish"). Caller must hold sh.mu
// for e's shard, normally via SetLatched's create-race protocol; e must not
// already be linked into sh.
func (t *Table) publishLocked(sh *shard, e *Entry) {
	sh.byHash[e.key.Hash64] = append(sh.byHash[e.key.Hash64], e)
	e.ref() // sentinel: stays alive while present in the table
	e.lruElem = t.lruEntries.Insert(lru.Active, e)
	t.metrics.entriesLive.Inc()
}

// removeFromBucket deletes e from its shard's bucket. Caller must hold sh.mu.
func removeFromBucket(sh *shard, e *Entry) bool {
	bucket := sh.byHash[e.key.Hash64]
	for i, cand := range bucket {
		if cand == e {
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			if len(bucket) == 0 {
				delete(sh.byHash, e.key.Hash64)
			} else {
				sh.byHash[e.key.Hash64] = bucket
			}
			return true
		}
	}
	return false
}

// RemoveChecked removes e from the table only if its refcount is still the
// lone sentinel reference, returning whether it removed it. Used by Kill to
// avoid unlinking an entry another goroutine just raced to FindKeyed (spec
// §4.4 "kill").
func (t *Table) RemoveChecked(e *Entry) bool {
	sh := t.shardFor(e.key.Hash64)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e.refcount.Load() != 1 {
		return false
	}
	if !removeFromBucket(sh, e) {
		return false
	}
	e.unref() // drop the sentinel now that the table no longer holds it
	t.lruEntries.Remove(e.lruElem)
	t.metrics.entriesLive.Dec()
	return true
}

// finalize runs when a caller's PutRef drops an Entry's refcount to zero
// (spec §4.4 "clean"). A weak cache like this one doesn't unlink the entry
// from the table just because nobody holds a reference to it any more; it
// demotes the entry to the Reusable queue so a future FindKeyed can still
// hit it, and only actually removes it from the table when the entry was
// marked unreachable (by unlink/rename-over) or the reclaimer needs the
// slot.
func (t *Table) finalize(e *Entry) {
	if e.refcount.Load() != 0 {
		// Someone raced a FindKeyed between unref and here; nothing to do.
		return
	}
	if e.isUnreachable() {
		t.kill(e)
		return
	}
	t.lruEntries.Move(e.lruElem, lru.Reusable)
}

// kill drops e from the table via RemoveChecked and releases its
// sub-provider handle (spec §4.4 "kill"). RemoveChecked no-ops when e is
// already out of the table or holds more than the sentinel reference; the
// handle is released either way.
func (t *Table) kill(e *Entry) {
	t.RemoveChecked(e)

	e.handleMu.Lock()
	h := e.handle
	e.handleMu.Unlock()
	if h != nil {
		if err := t.provider.Release(h); err != nil {
			t.log.Warn("release handle on kill failed", "err", err)
		}
	}
	e.removeFromAllExports()
}

// reclaimOne evicts the least-recently-used Reusable entry to make room for
// a new allocation when the table is at its configured size (spec §4.3
// "get a fresh one ... possibly by reclaiming a reusable one").
func (t *Table) reclaimOne(reason string) bool {
	elem := t.lruEntries.LRU(lru.Reusable)
	if elem == nil {
		return false
	}
	victim := elem.Value()
	if !t.RemoveChecked(victim) {
		// Raced: victim got a new reference or was already removed.
		return false
	}
	victim.handleMu.Lock()
	h := victim.handle
	victim.handleMu.Unlock()
	if h != nil {
		_ = t.provider.Release(h)
	}
	victim.removeFromAllExports()
	t.metrics.entryLRUEvictions.WithLabelValues(reason).Inc()
	return true
}

// buildEntry constructs a new Entry for (k, h, typ, attrs) but does not link
// it into the table; callers publish it themselves (spec §4.4 "allocate").
func (t *Table) buildEntry(k key.K, h provider.Handle, typ provider.ObjType, attrs provider.Attrs) *Entry {
	e := newEntry(t, k, h, typ)
	e.attrs = attrs
	e.flags.set(flagTrustAttrs)
	if attrs.IsJunction {
		e.flags.set(flagJunction)
	}
	return e
}

// LocateHost finds or creates the Entry for a handle the sub-provider just
// returned (spec §4.2 "locate_host"). The find-or-create decision is made
// atomically under one shard-latch acquisition via SetLatched, so two
// concurrent misses for the same key can never both publish an Entry (spec
// §3 invariant 1, §4.2 create-race protocol). When an Entry for this key
// already existed, whether from a true cache hit or because this call lost
// a create race, h is merged into the winning handle via Merge and then
// released, so only one handle per key is ever held open (spec §4.4 "merge").
func (t *Table) LocateHost(ctx context.Context, h provider.Handle, typ provider.ObjType, attrs provider.Attrs) (*Entry, status.Status) {
	k := key.New(t.providerID, h.Key())

	// Capacity-driven reclaim is best-effort and doesn't need to be atomic
	// with this key's check-then-insert, so it runs before the latched
	// section: reclaimOne takes its own (possibly different) shard's latch
	// and can call into the sub-provider, neither of which SetLatched's
	// callback may do (spec §5).
	if t.lruEntries.Len(lru.Active)+t.lruEntries.Len(lru.Reusable) >= t.cfg.EntryLRUSize {
		t.reclaimOne("capacity")
	}

	var built *Entry
	e, existed := t.SetLatched(k, func(existing *Entry, found bool) *Entry {
		if found {
			return nil
		}
		built = t.buildEntry(k, h, typ, attrs)
		return built
	})
	if !existed {
		built.ref() // caller's reference, in addition to the sentinel SetLatched took
		return built, status.Ok()
	}

	e.ref()
	t.lruEntries.Move(e.lruElem, lru.Active)
	if err := t.provider.Merge(ctx, e.Handle(), h); err != nil {
		e.PutRef()
		return nil, status.FromProviderError(err)
	}
	if err := t.provider.Release(h); err != nil {
		t.log.Warn("release handle after merge failed", "err", err)
	}
	return e, status.Ok()
}

// GetByKeyLatch is the fast path used by operations that already know the
// key they want (e.g. a Dirent's weak child reference) and only need to
// decide between a cache hit and a provider round trip, without redoing a
// name lookup (spec §4.2, Design Notes "weak dirent references").
func (t *Table) GetByKeyLatch(k key.K) (*Entry, bool) {
	return t.FindKeyed(k)
}

// SetLatched makes an atomic find-or-create decision against the bucket
// for k under one latch acquisition (spec §4.2 create-race protocol:
// check-then-insert). If no Entry for k exists yet, fn is called with
// (nil, false) and whatever non-nil Entry it returns is linked into the
// table (via publishLocked) before the latch is released; the returned
// Entry is the one now in the table and existed reports whether it was
// already there. If fn returns nil for the not-found case, SetLatched
// returns (nil, false) and the table is left unchanged. fn must not block
// on I/O or call back into the table; the shard latch may not be held
// across a sub-provider call (spec §5).
func (t *Table) SetLatched(k key.K, fn func(existing *Entry, found bool) *Entry) (e *Entry, existed bool) {
	sh := t.shardFor(k.Hash64)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for _, cand := range sh.byHash[k.Hash64] {
		if cand.key.Equal(k) {
			fn(cand, true)
			return cand, true
		}
	}
	created := fn(nil, false)
	if created == nil {
		return nil, false
	}
	t.publishLocked(sh, created)
	return created, false
}
