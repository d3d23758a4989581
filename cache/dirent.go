package cache

import (
	"container/list"

	"github.com/mdcachefs/mdcache/key"
)

// Dirent is a cached directory entry (spec §3): a (name, child-key, cookie)
// triple. Its child reference is weak — only the key, never a pointer — so
// the child Entry may be reclaimed while the Dirent survives; the next
// lookup re-materialises it via Table.FindKeyed or lookupUncached
// (Design Notes "weak dirent references").
type Dirent struct {
	name   string
	ckey   key.K
	cookie uint64

	deleted bool // tombstone, kept in deletedTree
	sorted  bool // participates in cookie_tree with correct linkage

	chunk *Chunk // nil => detached (spec invariant 2)
	eod   bool   // true iff this is the last dirent of the directory

	// detachedElem is this dirent's position in Entry.dir.detached when
	// chunk == nil, so eviction from the detached MRU list is O(1).
	detachedElem *list.Element
}

func direntLessByName(a, b *Dirent) bool { return a.name < b.name }
func direntLessByCookie(a, b *Dirent) bool {
	if a.cookie != b.cookie {
		return a.cookie < b.cookie
	}
	// Cookies should be unique once assigned; break ties by name so the
	// tree still has a total order while a collision is being resolved.
	return a.name < b.name
}

// direntNameKey builds a lookup key for name_tree/deleted_tree searches
// without needing a full Dirent.
func direntNameKey(name string) *Dirent { return &Dirent{name: name} }

func direntCookieKey(cookie uint64) *Dirent { return &Dirent{cookie: cookie} }
