// Package buffer provides pooled scratch storage for trace post-processing,
// so repeated collect calls reuse record slices instead of re-allocating.
package buffer

import (
	"sync"

	"github.com/pagetrace/pagetrace/pkg/types"
)

// RecordPool pools fault-record slices in capacity buckets to reduce GC
// pressure across collect calls.
type RecordPool struct {
	pools map[int]*sync.Pool
	sizes []int
	mu    sync.RWMutex
}

// NewRecordPool creates a pool with capacity buckets covering the usual
// observation-window sizes.
func NewRecordPool() *RecordPool {
	sizes := []int{
		256,
		1024,
		4096,
		16384,
		65536,
		262144,
	}

	pools := make(map[int]*sync.Pool)
	for _, size := range sizes {
		size := size // capture loop variable
		pools[size] = &sync.Pool{
			New: func() interface{} {
				return make([]types.FaultRecord, size)
			},
		}
	}

	return &RecordPool{
		pools: pools,
		sizes: sizes,
	}
}

// Get retrieves a record slice of exactly the requested length, backed by
// the smallest bucket that can hold it.
func (p *RecordPool) Get(capacity int) []types.FaultRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, bucketSize := range p.sizes {
		if bucketSize >= capacity {
			if pool, exists := p.pools[bucketSize]; exists {
				recs := pool.Get().([]types.FaultRecord)
				return recs[:capacity]
			}
		}
	}

	// Larger than any bucket: allocate directly.
	return make([]types.FaultRecord, capacity)
}

// Put returns a record slice to the pool. The caller must have cleared the
// records first; a pooled slice must never pin a FileRef.
func (p *RecordPool) Put(recs []types.FaultRecord) {
	if recs == nil {
		return
	}

	capacity := cap(recs)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if pool, exists := p.pools[capacity]; exists {
		recs = recs[:capacity]
		for i := range recs {
			recs[i] = types.FaultRecord{}
		}
		// nolint:staticcheck // SA6002: sync.Pool.Put requires interface{}, slice allocation is expected
		pool.Put(recs)
	}
	// If no matching pool, let GC handle it.
}

// PoolStats describes the configured buckets.
type PoolStats struct {
	PoolSizes     []int `json:"pool_sizes"`
	TotalPools    int   `json:"total_pools"`
	MaxBucketSize int   `json:"max_bucket_size"`
	MinBucketSize int   `json:"min_bucket_size"`
}

// GetStats returns current pool statistics.
func (p *RecordPool) GetStats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{
		PoolSizes:  make([]int, len(p.sizes)),
		TotalPools: len(p.pools),
	}

	copy(stats.PoolSizes, p.sizes)

	if len(p.sizes) > 0 {
		stats.MinBucketSize = p.sizes[0]
		stats.MaxBucketSize = p.sizes[len(p.sizes)-1]
	}

	return stats
}

// Global pool instance
var defaultRecordPool = NewRecordPool()

// GetRecords gets a record slice from the default global pool.
func GetRecords(capacity int) []types.FaultRecord {
	return defaultRecordPool.Get(capacity)
}

// PutRecords returns a record slice to the default global pool.
func PutRecords(recs []types.FaultRecord) {
	defaultRecordPool.Put(recs)
}
