package dtlsproxy

import "net"

// BackendPool reserves the shape of a future multi-backend design
// (proxy.h's `struct { session_t *addr; int count; int index; }`)
// without implementing load balancing: spec.md's Non-goals explicitly
// exclude it, and §9's Open Questions leaves per-session vs.
// per-datagram vs. consistent-hash selection undecided. Count is
// pinned at 1, matching the original's `ctx->backends.count = 1 //
// todo`.
type BackendPool struct {
	addr  *net.UDPAddr
	count int
	index int
}

// NewBackendPool returns a pool holding a single, already-resolved
// backend address.
func NewBackendPool(addr *net.UDPAddr) *BackendPool {
	return &BackendPool{addr: addr, count: 1}
}

// Pick always returns the sole configured backend; the round-robin
// cursor is retained but never advances.
func (b *BackendPool) Pick() *net.UDPAddr {
	return b.addr
}

// Count reports the number of backends in the pool (always 1).
func (b *BackendPool) Count() int { return b.count }
