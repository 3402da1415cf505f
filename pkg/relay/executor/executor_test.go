package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolUnboundedSubmit(t *testing.T) {
	p := New(0)
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		if err := p.Submit(context.Background(), func() { n.Add(1) }); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	p.Wait()
	if n.Load() != 10 {
		t.Fatalf("n = %d, want 10", n.Load())
	}
}

func TestPoolBoundedTrySubmit(t *testing.T) {
	p := New(1)
	block := make(chan struct{})
	started := make(chan struct{})
	p.Submit(context.Background(), func() {
		close(started)
		<-block
	})
	<-started

	if p.TrySubmit(func() {}) {
		t.Fatalf("expected TrySubmit to fail while the single slot is held")
	}
	close(block)
	p.Wait()
}

func TestSchedulerCancel(t *testing.T) {
	s := NewScheduler()
	fired := make(chan struct{}, 1)
	task := s.Schedule(50*time.Millisecond, func() { fired <- struct{}{} })
	if !task.Cancel() {
		t.Fatalf("expected Cancel to succeed before firing")
	}
	select {
	case <-fired:
		t.Fatalf("task fired despite cancellation")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSchedulerFires(t *testing.T) {
	s := NewScheduler()
	fired := make(chan struct{}, 1)
	s.Schedule(10*time.Millisecond, func() { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("task did not fire")
	}
}
