package cache

import (
	"container/list"

	"github.com/mdcachefs/mdcache/dirtree"
	"github.com/mdcachefs/mdcache/key"
)

// invalidateContent drops all cached directory content and the trust flags
// that describe it (spec §4.4 "clean", §4.1 "unlink" NOTEMPTY handling). It
// does not touch attrs.
func (e *Entry) invalidateContent() {
	if e.dir == nil {
		return
	}
	e.dir.contentMu.Lock()
	e.dir.nameTree = dirtree.New(direntLessByName)
	e.dir.cookieTree = dirtree.New(direntLessByCookie)
	e.dir.deletedTree = dirtree.New(direntLessByName)
	e.dir.detached = list.New()
	e.dir.detachedCount = 0
	e.dir.chunks = nil
	e.dir.firstCookie = 0
	e.dir.contentMu.Unlock()

	e.flags.clear(flagTrustContent | flagDirPopulated | flagTrustDirChunks)
}

// invalidateParentKey clears a directory's cached parent pointer, e.g.
// because its parent was itself removed.
func (e *Entry) invalidateParentKey() {
	e.dir.contentMu.Lock()
	e.dir.parentKey = key.K{}
	e.dir.contentMu.Unlock()
}
