package cache

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Config carries the recognised options of spec §6.3, plus the reclaimer
// sizing the teacher's cfg package separates out from the mount-level
// knobs it's adjacent to.
type Config struct {
	// AvlChunk is the capacity of each cached dirent chunk; 0 disables
	// chunking (spec §6.3).
	AvlChunk uint32
	// AvlChunkSplit is the threshold at which a chunk splits into two
	// roughly-equal halves; must be > AvlChunk or chunking degrades
	// (spec §6.3).
	AvlChunkSplit uint32
	// AvlDetachedMax caps per-directory detached dirents.
	AvlDetachedMax uint32
	// AvlMax caps total dirents per directory; further additions fail
	// OVERFLOW.
	AvlMax uint32
	// RetryReaddir: if a full-population pass terminates before eod,
	// return DELAY for retry instead of silently truncating.
	RetryReaddir bool
	// DefaultExpireTimeAttr is the attribute TTL used when the export and
	// the sub-provider both leave it unset (spec §4.4 "attach attributes").
	DefaultExpireTimeAttr time.Duration

	// EntryLRUSize is the entry count (Active plus Reusable queues) at which
	// LocateHost first tries to reclaim one Reusable entry before allocating
	// (spec §4.3). ChunkLRUSize is not read by the cache: the chunk LRU is
	// never trimmed.
	EntryLRUSize int
	ChunkLRUSize int
	// TableShards is the number of latch-protected shards the node table
	// is split across (spec §4.2, §5 "per-shard latch").
	TableShards int
}

// DefaultConfig returns the configuration the scenario seeds of spec §8
// are written against.
func DefaultConfig() Config {
	return Config{
		AvlChunk:              32,
		AvlChunkSplit:         48,
		AvlDetachedMax:        8,
		AvlMax:                100000,
		RetryReaddir:          true,
		DefaultExpireTimeAttr: 60 * time.Second,
		EntryLRUSize:          1 << 16,
		ChunkLRUSize:          1 << 14,
		TableShards:           64,
	}
}

// Validate reports the first configuration inconsistency found, following
// the shape of the teacher's cfg.Validate: a single aggregated check run
// before the cache starts serving.
func (c Config) Validate() error {
	if c.AvlChunk > 0 && c.AvlChunkSplit <= c.AvlChunk {
		return fmt.Errorf("avl_chunk_split (%d) must be greater than avl_chunk (%d)", c.AvlChunkSplit, c.AvlChunk)
	}
	if c.AvlMax == 0 {
		return fmt.Errorf("avl_max must be positive")
	}
	if c.AvlChunk > 0 && uint64(c.AvlDetachedMax) > uint64(c.AvlMax) {
		return fmt.Errorf("avl_detached_max (%d) must not exceed avl_max (%d)", c.AvlDetachedMax, c.AvlMax)
	}
	if c.EntryLRUSize <= 0 {
		return fmt.Errorf("entry LRU size must be positive")
	}
	if c.TableShards <= 0 {
		return fmt.Errorf("table shard count must be positive")
	}
	return nil
}

// DecodeConfig decodes an externally supplied settings map (e.g. parsed
// from a front end's own mount options) onto DefaultConfig, using
// mapstructure the same way the teacher's cfg package decodes its mount
// config from a generic map.
func DecodeConfig(settings map[string]any) (Config, error) {
	cfg := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		TagName:          "mdcache",
	})
	if err != nil {
		return cfg, err
	}
	if err := decoder.Decode(settings); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
