// Package lease implements a process-wide multiset of named resources,
// each mapped to a refcount and a pair of first-acquire/last-release
// callbacks. Grounded on the original LeaseRegistry (a mutex-protected
// bucket map with a move-only RAII guard); here the registry is an
// explicit collaborator rather than a singleton, and the guard becomes a
// Lease value whose Release is idempotent.
package lease

import (
	"sync"
	"time"
)

// Callback runs on a 0->1 (OnFirst) or 1->0 (OnLast) transition.
type Callback func()

type bucket struct {
	count   int
	onFirst Callback
	onLast  Callback
}

type record struct {
	id         uint64
	resource   string
	owner      map[string]any
	acquiredAt time.Time
}

// Registry tracks refcounted named resources.
type Registry struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	leases  map[uint64]*record
	order   []uint64
	nextID  uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		buckets: make(map[string]*bucket),
		leases:  make(map[uint64]*record),
	}
}

// Acquire takes a lease on resource, running onFirst if this is the first
// concurrent holder. onFirst/onLast are sticky per resource: only the
// first caller to supply non-nil callbacks for a given resource name has
// them registered; later Acquire calls on the same resource while it is
// already held may omit them.
func (r *Registry) Acquire(resource string, owner map[string]any, onFirst, onLast Callback) *Lease {
	r.mu.Lock()
	b, ok := r.buckets[resource]
	if !ok {
		b = &bucket{}
		r.buckets[resource] = b
	}
	if b.count == 0 {
		if b.onFirst == nil {
			b.onFirst = onFirst
		}
		if b.onLast == nil {
			b.onLast = onLast
		}
		fire := b.onFirst
		b.count++
		r.nextID++
		id := r.nextID
		r.leases[id] = &record{id: id, resource: resource, owner: owner, acquiredAt: time.Now()}
		r.order = append(r.order, id)
		r.mu.Unlock()
		if fire != nil {
			fire()
		}
		return &Lease{registry: r, id: id}
	}

	b.count++
	r.nextID++
	id := r.nextID
	r.leases[id] = &record{id: id, resource: resource, owner: owner, acquiredAt: time.Now()}
	r.order = append(r.order, id)
	r.mu.Unlock()
	return &Lease{registry: r, id: id}
}

// release is invoked by Lease.Release; idempotent per lease id (Lease
// itself guards against a double call, this guards against misuse of a
// raw id).
func (r *Registry) release(id uint64) {
	r.mu.Lock()
	rec, ok := r.leases[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.leases, id)
	b := r.buckets[rec.resource]
	var fire Callback
	if b != nil && b.count > 0 {
		b.count--
		if b.count == 0 {
			fire = b.onLast
		}
	}
	r.mu.Unlock()
	if fire != nil {
		fire()
	}
}

// ResourceSnapshot describes one resource bucket's current refcount.
type ResourceSnapshot struct {
	Resource string
	Count    int
}

// LeaseSnapshot describes one outstanding lease and its age.
type LeaseSnapshot struct {
	ID       uint64
	Resource string
	Owner    map[string]any
	AgeMs    int64
}

// Snapshot returns the current resources and outstanding leases, ordered
// by acquisition, for diagnostics.
func (r *Registry) Snapshot() (resources []ResourceSnapshot, leases []LeaseSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, b := range r.buckets {
		resources = append(resources, ResourceSnapshot{Resource: name, Count: b.count})
	}
	now := time.Now()
	for _, id := range r.order {
		rec, ok := r.leases[id]
		if !ok {
			continue
		}
		leases = append(leases, LeaseSnapshot{
			ID:       rec.id,
			Resource: rec.resource,
			Owner:    rec.owner,
			AgeMs:    now.Sub(rec.acquiredAt).Milliseconds(),
		})
	}
	return resources, leases
}

// Lease is a move-only handle: callers should pass it by pointer and
// never copy it after acquisition. Release is idempotent.
type Lease struct {
	registry *Registry
	id       uint64
	once     sync.Once
}

// Release drops the lease. Safe to call more than once or on a nil Lease.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.registry.release(l.id)
	})
}
