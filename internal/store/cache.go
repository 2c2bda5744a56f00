package store

import (
	"sync"

	"github.com/i474232898/roof-pv-estimation/internal/estimate"
)

type cacheEntry struct {
	state estimate.CacheState
	resp  estimate.RawResponse
}

// FingerprintCache maps a roof configuration to the raw provider response.
// It lives for exactly one run. The first successful response wins.
type FingerprintCache struct {
	mu      sync.RWMutex
	entries map[estimate.Fingerprint]*cacheEntry
}

// NewFingerprintCache creates an empty cache.
func NewFingerprintCache() *FingerprintCache {
	return &FingerprintCache{
		entries: make(map[estimate.Fingerprint]*cacheEntry),
	}
}

// Get returns the resolved response for fp.
func (c *FingerprintCache) Get(fp estimate.Fingerprint) (estimate.RawResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[fp]
	if !ok || e.state != estimate.StateResolved {
		return estimate.RawResponse{}, false
	}
	return e.resp, true
}

// Set stores resp for fp. It returns false when fp already holds a response.
// A pending or failed entry is resolved.
func (c *FingerprintCache) Set(fp estimate.Fingerprint, resp estimate.RawResponse) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fp]
	if !ok {
		e = &cacheEntry{}
		c.entries[fp] = e
	}
	if e.state == estimate.StateResolved {
		return false
	}

	e.state = estimate.StateResolved
	e.resp = resp
	return true
}

// Reserve marks fp as in flight. It returns false if fp is already known.
func (c *FingerprintCache) Reserve(fp estimate.Fingerprint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[fp]; ok {
		return false
	}
	c.entries[fp] = &cacheEntry{state: estimate.StatePending}
	return true
}

// Fail records that the request for fp failed. Resolved entries are kept.
func (c *FingerprintCache) Fail(fp estimate.Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fp]
	if !ok {
		e = &cacheEntry{}
		c.entries[fp] = e
	}
	if e.state == estimate.StateResolved {
		return
	}
	e.state = estimate.StateFailed
}

// State returns the lifecycle state of fp.
func (c *FingerprintCache) State(fp estimate.Fingerprint) estimate.CacheState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[fp]
	if !ok {
		return estimate.StateMissing
	}
	return e.state
}
