// Package bufpool provides tiered byte slice pools for the frame write path.
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
package bufpool

import "sync"

// Default size classes.
const (
	DefaultSmallSize  = 4 << 10
	DefaultMediumSize = 64 << 10
	DefaultLargeSize  = 1 << 20
)

type tier struct {
	size int
	pool sync.Pool
}

// Pool hands out slices from the smallest size class that fits. Requests
// larger than the biggest class are allocated directly and never pooled.
type Pool struct {
	tiers []*tier
}

// NewPool creates a pool with the given size classes in ascending order.
// No sizes selects the defaults.
func NewPool(sizes ...int) *Pool {
	if len(sizes) == 0 {
		sizes = []int{DefaultSmallSize, DefaultMediumSize, DefaultLargeSize}
	}

	p := &Pool{tiers: make([]*tier, 0, len(sizes))}
	for _, size := range sizes {
		t := &tier{size: size}
		t.pool.New = func() any {
			buf := make([]byte, t.size)
			return &buf
		}
		p.tiers = append(p.tiers, t)
	}
	return p
}

// Get returns a slice of length size. Its capacity is the size class.
func (p *Pool) Get(size int) []byte {
	for _, t := range p.tiers {
		if size <= t.size {
			buf := *t.pool.Get().(*[]byte)
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns buf to its size class. Slices that did not come from Get are
// dropped.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	for _, t := range p.tiers {
		if cap(buf) == t.size {
			full := buf[:cap(buf)]
			t.pool.Put(&full)
			return
		}
	}
}

var global = NewPool()

// Get returns a slice of length size from the process-wide pool.
func Get(size int) []byte {
	return global.Get(size)
}

// Put returns buf to the process-wide pool.
func Put(buf []byte) {
	global.Put(buf)
}
