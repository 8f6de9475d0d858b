package vm

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"

	"github.com/colorfulnotion/avm/common"
	"github.com/colorfulnotion/avm/vm/program"
)

type cacheKey struct {
	image common.Hash
	pc    uint32
}

// DecodeCache memoizes decoded instructions of immutable code images. Keys
// include the image hash so contexts running the same contract share entries.
// Safe for concurrent use.
type DecodeCache struct {
	lru    *lru.Cache
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewDecodeCache returns nil (no caching) when size is zero.
func NewDecodeCache(size int) (*DecodeCache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &DecodeCache{lru: c}, nil
}

func (d *DecodeCache) get(image common.Hash, pc uint32) (program.Instruction, bool) {
	if v, ok := d.lru.Get(cacheKey{image, pc}); ok {
		d.hits.Add(1)
		return v.(program.Instruction), true
	}
	d.misses.Add(1)
	return program.Instruction{}, false
}

func (d *DecodeCache) add(image common.Hash, pc uint32, inst program.Instruction) {
	d.lru.Add(cacheKey{image, pc}, inst)
}

// Stats returns hit and miss counts.
func (d *DecodeCache) Stats() (hits, misses uint64) {
	return d.hits.Load(), d.misses.Load()
}

func (d *DecodeCache) Len() int { return d.lru.Len() }
