// Package cache implements the metadata cache that sits between a network
// file-serving front end and a sub-provider (spec §1). Entry is the cached
// node; Table is the keyed hash table of live entries; the operation
// surface of spec §4.1 is exposed as methods on *Entry.
package cache
