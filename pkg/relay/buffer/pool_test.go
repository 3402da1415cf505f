package buffer

import "testing"

func TestAcquireRounds(t *testing.T) {
	p := New()
	buf := p.Acquire(100)
	if len(buf) != 100 {
		t.Fatalf("len = %d, want 100", len(buf))
	}
	if cap(buf) != Class2KB {
		t.Fatalf("cap = %d, want %d", cap(buf), Class2KB)
	}
}

func TestAcquireReleaseReuse(t *testing.T) {
	p := New()
	buf := p.Acquire(Class4KB)
	p.Release(buf)

	buf2 := p.Acquire(Class4KB)
	found := false
	for _, m := range p.Metrics() {
		if m.Size == Class4KB {
			if m.Hits == 0 {
				t.Fatalf("expected a pool hit after release+acquire")
			}
			found = true
		}
	}
	if !found {
		t.Fatalf("no metrics for class %d", Class4KB)
	}
	_ = buf2
}

func TestAcquireOversize(t *testing.T) {
	p := New()
	buf := p.Acquire(ClassMax + 1)
	if len(buf) != ClassMax+1 {
		t.Fatalf("len = %d, want %d", len(buf), ClassMax+1)
	}
	// Release of an oversize buffer must not panic.
	p.Release(buf)
}
