package lease

import "testing"

func TestAcquireFiresOnFirstOnlyOnce(t *testing.T) {
	r := New()
	fired := 0
	l1 := r.Acquire("net.http", nil, func() { fired++ }, nil)
	l2 := r.Acquire("net.http", nil, func() { fired++ }, nil)
	if fired != 1 {
		t.Fatalf("expected onFirst to fire exactly once, got %d", fired)
	}
	l1.Release()
	l2.Release()
}

func TestReleaseFiresOnLastOnlyAtZero(t *testing.T) {
	r := New()
	lastFired := 0
	l1 := r.Acquire("net.mdns", nil, nil, func() { lastFired++ })
	l2 := r.Acquire("net.mdns", nil, nil, nil)
	l1.Release()
	if lastFired != 0 {
		t.Fatalf("onLast should not fire while refcount > 0")
	}
	l2.Release()
	if lastFired != 1 {
		t.Fatalf("expected onLast to fire exactly once, got %d", lastFired)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := New()
	fired := 0
	l := r.Acquire("net.http", nil, nil, func() { fired++ })
	l.Release()
	l.Release()
	l.Release()
	if fired != 1 {
		t.Fatalf("expected onLast exactly once across repeated Release, got %d", fired)
	}
}

func TestReleaseOnNilLeaseIsSafe(t *testing.T) {
	var l *Lease
	l.Release()
}

func TestSnapshotReportsResourcesAndLeases(t *testing.T) {
	r := New()
	l1 := r.Acquire("net.http", map[string]any{"component": "spotify"}, nil, nil)
	defer l1.Release()
	r.Acquire("net.mdns", nil, nil, nil)

	resources, leases := r.Snapshot()
	if len(resources) != 2 {
		t.Fatalf("expected 2 resource buckets, got %d", len(resources))
	}
	if len(leases) != 2 {
		t.Fatalf("expected 2 outstanding leases, got %d", len(leases))
	}
	for _, rs := range resources {
		if rs.Count != 1 {
			t.Fatalf("expected each bucket count 1, got %d for %s", rs.Count, rs.Resource)
		}
	}
}

func TestAcquireReleaseRoundTripDecrementsCount(t *testing.T) {
	r := New()
	l := r.Acquire("net.http", nil, nil, nil)
	l.Release()
	resources, leases := r.Snapshot()
	if len(leases) != 0 {
		t.Fatalf("expected no outstanding leases after release, got %d", len(leases))
	}
	for _, rs := range resources {
		if rs.Count != 0 {
			t.Fatalf("expected bucket count back to 0, got %d", rs.Count)
		}
	}
}
