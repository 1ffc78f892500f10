// Package eviction decides which cached zone albums may be dropped from the
// device. The cache is append-only unless a bounded policy is configured.
package eviction

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Policy is told about every zone that was just viewed and answers with the
// zone ids whose albums should be evicted.
type Policy interface {
	Touch(zoneID string) []string
	// Forget drops zoneID from the policy's bookkeeping.
	Forget(zoneID string)
}

// Seeder is implemented by policies that can be told about zones cached by
// earlier runs.
type Seeder interface {
	Seed(zoneIDs []string) []string
}

// Noop keeps everything.
type Noop struct{}

func (Noop) Touch(string) []string { return nil }
func (Noop) Forget(string)         {}

// LRU keeps the most recently viewed maxZones zones.
type LRU struct {
	mu      sync.Mutex
	cache   *lru.Cache[string, struct{}]
	evicted []string
}

func NewLRU(maxZones int) (*LRU, error) {
	p := &LRU{}
	c, err := lru.NewWithEvict(maxZones, func(zoneID string, _ struct{}) {
		p.evicted = append(p.evicted, zoneID)
	})
	if err != nil {
		return nil, err
	}
	p.cache = c
	return p, nil
}

// Seed registers zones already cached on disk, oldest first, and returns
// the ones that do not fit.
func (p *LRU) Seed(zoneIDs []string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range zoneIDs {
		p.cache.Add(id, struct{}{})
	}
	return p.drain()
}

func (p *LRU) Touch(zoneID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Add(zoneID, struct{}{})
	return p.drain()
}

func (p *LRU) Forget(zoneID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Remove(zoneID)
	p.evicted = nil
}

func (p *LRU) Len() int {
	return p.cache.Len()
}

func (p *LRU) drain() []string {
	out := p.evicted
	p.evicted = nil
	return out
}
