package cache

// addDetached adds d to the MRU end of the directory's detached list
// (spec §4.5.1 step 4), evicting the LRU detached dirent from name_tree if
// the directory is now over avl_detached_max (spec invariant 3).
func (ds *dirState) addDetached(d *Dirent, maxDetached int) {
	ds.detachedMu.Lock()
	d.detachedElem = ds.detached.PushBack(d)
	ds.detachedCount++
	var evict *Dirent
	if ds.detachedCount > maxDetached {
		front := ds.detached.Front()
		evict = front.Value.(*Dirent)
		ds.detached.Remove(front)
		ds.detachedCount--
	}
	ds.detachedMu.Unlock()

	if evict != nil {
		ds.nameTree.Delete(evict)
		if evict.sorted {
			ds.cookieTree.Delete(evict)
		}
	}
}

// bumpDetached moves d to the MRU end of the detached list.
func (ds *dirState) bumpDetached(d *Dirent) {
	ds.detachedMu.Lock()
	if d.detachedElem != nil {
		ds.detached.MoveToBack(d.detachedElem)
	}
	ds.detachedMu.Unlock()
}

// removeDetached takes d off the detached list, e.g. because it is about
// to be slotted into a chunk or deleted outright.
func (ds *dirState) removeDetached(d *Dirent) {
	ds.detachedMu.Lock()
	if d.detachedElem != nil {
		ds.detached.Remove(d.detachedElem)
		d.detachedElem = nil
		ds.detachedCount--
	}
	ds.detachedMu.Unlock()
}
