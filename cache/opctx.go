package cache

import "github.com/mdcachefs/mdcache/provider"

// OpContext carries what the source kept in a thread-local "operation
// context" (Design Notes): the export an operation is running under, plus
// the attribute mask the front end asked for. It is threaded explicitly
// through every operation method instead.
type OpContext struct {
	Export      provider.Export
	RequestMask uint64
}
