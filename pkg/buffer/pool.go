package buffer

import "sync"

// Stats are counters of a Pool.
type Stats struct {
	Allocations int
	Gets        int
	Recycles    int
	Idle        int
	HighWater   int
}

// Pool recycles byte slices of a fixed size. At most maxCount idle slices
// are kept; returning more drops the oldest ones.
type Pool struct {
	size     int
	maxCount int

	mu    sync.Mutex
	idle  [][]byte
	stats Stats
}

// NewPool creates a pool of size-byte slices, preallocating initialCount of
// them. maxCount below initialCount is raised to initialCount.
func NewPool(size, initialCount, maxCount int) *Pool {
	if size <= 0 {
		panic("buffer: pool size must be positive")
	}
	if maxCount < initialCount {
		maxCount = initialCount
	}

	p := &Pool{size: size, maxCount: maxCount}
	for i := 0; i < initialCount; i++ {
		p.idle = append(p.idle, make([]byte, size))
		p.stats.Allocations++
	}
	p.stats.Idle = len(p.idle)
	p.stats.HighWater = len(p.idle)
	return p
}

// Size returns the length of the pooled slices.
func (p *Pool) Size() int {
	return p.size
}

// Get returns a slice of Size bytes. Its contents are unspecified.
func (p *Pool) Get() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Gets++
	if n := len(p.idle); n > 0 {
		b := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		p.stats.Idle = len(p.idle)
		return b
	}
	p.stats.Allocations++
	return make([]byte, p.size)
}

// Put hands b back to the pool. Slices of the wrong capacity are ignored.
func (p *Pool) Put(b []byte) {
	if cap(b) != p.size {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Recycles++
	p.idle = append(p.idle, b[:p.size])
	if excess := len(p.idle) - p.maxCount; excess > 0 {
		copy(p.idle, p.idle[excess:])
		for i := len(p.idle) - excess; i < len(p.idle); i++ {
			p.idle[i] = nil
		}
		p.idle = p.idle[:len(p.idle)-excess]
	}
	p.stats.Idle = len(p.idle)
	if p.stats.Idle > p.stats.HighWater {
		p.stats.HighWater = p.stats.Idle
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Purge drops all idle slices.
func (p *Pool) Purge() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.idle)
	p.idle = p.idle[:0]
	p.stats.Idle = 0
}
