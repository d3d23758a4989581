package cache

import (
	"sync"

	"github.com/mdcachefs/mdcache/provider"
	"github.com/mdcachefs/mdcache/status"
)

// exportMap records that an Entry is reachable through a given export
// (spec §4.6). The source keeps this intrusive on both the node and the
// export; we keep it as a small slice on Entry under attrMu instead, per
// the Design Notes' licence to replace intrusive pointer links with a
// plainer representation.
type exportMap struct {
	exportID int64
}

// exportRegistry is the per-export lock spec §5 calls "per-export
// mdc_exp_lock", guarding the export's UNEXPORT flag; it keeps no list of
// the export's entries. One exists per export id the cache has ever seen an
// operation for.
type exportRegistry struct {
	mu         sync.Mutex
	unexported bool
}

// exportRegistries guards the map of export id to its registry. It is its
// own lock, distinct from any shard latch or per-node lock, matching the
// independent "Export mdc_exp_lock" rung of the lock-ordering ladder
// (spec §5).
type exportRegistries struct {
	mu  sync.Mutex
	regs map[int64]*exportRegistry
}

func newExportRegistries() *exportRegistries {
	return &exportRegistries{regs: make(map[int64]*exportRegistry)}
}

func (r *exportRegistries) get(id int64) *exportRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[id]
	if !ok {
		reg = &exportRegistry{}
		r.regs[id] = reg
	}
	return reg
}

// MarkUnexported flags an export so future check_mapping calls fail with
// STALE (spec §4.6 step 1). Existing mappings are left in place; they are
// cleaned up as their entries are killed.
func (r *exportRegistries) MarkUnexported(id int64) {
	reg := r.get(id)
	reg.mu.Lock()
	reg.unexported = true
	reg.mu.Unlock()
}

// checkMapping implements spec §4.6: ensure e is recorded as reachable
// through export, taking the fast path when first_export_id already
// matches, and handling the UNEXPORT race.
func (t *Table) checkMapping(e *Entry, export provider.Export) status.Status {
	reg := t.exports.get(export.ID)

	reg.mu.Lock()
	unexported := reg.unexported
	reg.mu.Unlock()
	if unexported {
		return status.StaleHandle()
	}

	// Fast path: the common single-export case never needs the list walk.
	if e.firstExportID.Load() == export.ID {
		return status.Ok()
	}

	e.attrMu.RLock()
	for _, m := range e.exports {
		if m.exportID == export.ID {
			e.attrMu.RUnlock()
			return status.Ok()
		}
	}
	e.attrMu.RUnlock()

	e.attrMu.Lock()
	defer e.attrMu.Unlock()

	// Re-check: a racer may have added the mapping while we upgraded.
	for _, m := range e.exports {
		if m.exportID == export.ID {
			return status.Ok()
		}
	}

	reg.mu.Lock()
	unexported = reg.unexported
	if !unexported {
		e.exports = append(e.exports, exportMap{exportID: export.ID})
		if e.firstExportID.Load() == 0 {
			e.firstExportID.Store(export.ID)
		}
	}
	reg.mu.Unlock()

	if unexported {
		return status.StaleHandle()
	}
	return status.Ok()
}

// removeFromAllExports drops every export mapping on e (spec §4.4 "clean").
func (e *Entry) removeFromAllExports() {
	e.attrMu.Lock()
	e.exports = nil
	e.firstExportID.Store(0)
	e.attrMu.Unlock()
}
