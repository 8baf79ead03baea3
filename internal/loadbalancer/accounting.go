package loadbalancer

import (
	"sync"

	"github.com/angeloszaimis/hybrid-lb/internal/backend"
)

// Acquire counts one more in-flight request on b.
func Acquire(b *backend.Backend) {
	b.IncrementConn()
}

// Release counts one less in-flight request on b. The count never drops
// below zero.
func Release(b *backend.Backend) {
	b.DecrementConn()
}

// Reservation is an acquired connection slot on a selected backend.
type Reservation struct {
	Selection
	once sync.Once
}

// Release gives the slot back. Only the first call has an effect, so it can
// be deferred and also called from other completion paths.
func (r *Reservation) Release() {
	r.once.Do(func() {
		Release(r.Backend)
	})
}
