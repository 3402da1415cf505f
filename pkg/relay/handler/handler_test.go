package handler

import (
	"context"
	"testing"
)

type fakeRequest struct{ ctx context.Context }

func (r *fakeRequest) Context() context.Context { return r.ctx }

type fakeResponse struct{ committed bool }

func (r *fakeResponse) Committed() bool { return r.committed }

func newFakeReqResp() (*fakeRequest, *fakeResponse) {
	return &fakeRequest{ctx: context.Background()}, &fakeResponse{}
}

func TestLeafHandles(t *testing.T) {
	called := false
	l := NewLeaf(func(req Request, resp Response) (bool, error) {
		called = true
		return true, nil
	})
	req, resp := newFakeReqResp()
	handled, err := l.Handle(req, resp)
	if err != nil || !handled || !called {
		t.Fatalf("handled=%v err=%v called=%v", handled, err, called)
	}
}

func TestWrapperDelegatesAndRunsPrePost(t *testing.T) {
	var order []string
	child := NewLeaf(func(req Request, resp Response) (bool, error) {
		order = append(order, "child")
		return true, nil
	})
	w := NewWrapper(child)
	w.Before = func(req Request, resp Response) error { order = append(order, "before"); return nil }
	w.After = func(req Request, resp Response) error { order = append(order, "after"); return nil }

	req, resp := newFakeReqResp()
	handled, err := w.Handle(req, resp)
	if err != nil || !handled {
		t.Fatalf("handled=%v err=%v", handled, err)
	}
	want := []string{"before", "child", "after"}
	if len(order) != len(want) {
		t.Fatalf("order=%v want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order=%v want %v", order, want)
		}
	}
}

func TestCollectionFirstTrueWins(t *testing.T) {
	var calledSecond bool
	first := NewLeaf(func(req Request, resp Response) (bool, error) { return true, nil })
	second := NewLeaf(func(req Request, resp Response) (bool, error) {
		calledSecond = true
		return true, nil
	})
	c := NewCollection(first, second)
	req, resp := newFakeReqResp()
	handled, err := c.Handle(req, resp)
	if err != nil || !handled {
		t.Fatalf("handled=%v err=%v", handled, err)
	}
	if calledSecond {
		t.Fatalf("second handler should not have run")
	}
}

func TestCollectionSetHandlersIsCopyOnWrite(t *testing.T) {
	c := NewCollection(NewLeaf(func(Request, Response) (bool, error) { return true, nil }))
	snapshotBefore := c.Handlers()

	c.SetHandlers(NewLeaf(func(Request, Response) (bool, error) { return false, nil }))

	if len(snapshotBefore) != 1 {
		t.Fatalf("old snapshot should be unaffected by SetHandlers")
	}
	if len(c.Handlers()) != 1 {
		t.Fatalf("new snapshot should have 1 handler")
	}
}

func TestSetChildDetectsCycle(t *testing.T) {
	w1 := NewWrapper(nil)
	w2 := NewWrapper(w1)
	err := w1.SetChild(w2)
	if err != ErrCycle {
		t.Fatalf("err = %v, want ErrCycle", err)
	}
}

func TestScopedRunsScopeBeforeHandleAndTearsDown(t *testing.T) {
	var order []string
	leaf := NewLeaf(func(req Request, resp Response) (bool, error) {
		order = append(order, "leaf")
		return true, nil
	})
	s := NewScoped(leaf)
	s.DoScope = func(req Request, resp Response, next func() error) error {
		order = append(order, "scope-in")
		err := next()
		order = append(order, "scope-out")
		return err
	}
	s.DoHandle = func(req Request, resp Response, next func(Request, Response) (bool, error)) (bool, error) {
		order = append(order, "handle")
		return next(req, resp)
	}

	req, resp := newFakeReqResp()
	handled, err := s.Handle(req, resp)
	if err != nil || !handled {
		t.Fatalf("handled=%v err=%v", handled, err)
	}
	want := []string{"scope-in", "handle", "leaf", "scope-out"}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("order=%v want %v", order, want)
		}
	}
}

func TestScopedChainSetsUpAllAncestorsBeforeHandle(t *testing.T) {
	var order []string
	leaf := NewLeaf(func(req Request, resp Response) (bool, error) {
		order = append(order, "leaf")
		return true, nil
	})
	inner := NewScoped(leaf)
	inner.DoScope = func(req Request, resp Response, next func() error) error {
		order = append(order, "inner-scope")
		return next()
	}
	outer := NewScoped(inner)
	outer.DoScope = func(req Request, resp Response, next func() error) error {
		order = append(order, "outer-scope")
		return next()
	}
	outer.DoHandle = func(req Request, resp Response, next func(Request, Response) (bool, error)) (bool, error) {
		order = append(order, "outer-handle")
		return next(req, resp)
	}

	req, resp := newFakeReqResp()
	_, err := outer.Handle(req, resp)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	want := []string{"outer-scope", "inner-scope", "outer-handle", "leaf"}
	if len(order) != len(want) {
		t.Fatalf("order=%v want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order=%v want %v", order, want)
		}
	}
}
