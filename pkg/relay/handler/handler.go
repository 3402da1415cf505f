// Package handler implements the scoped Handler tree user code is
// mounted into: Leaf, Wrapper, Collection, and Scoped structural
// contracts over a single Handler interface.
package handler

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrCycle is returned by Wrapper.SetChild, Scoped.SetChild,
// Collection.SetHandlers and Collection.AddHandler when the assignment
// would create a cycle in the handler tree.
var ErrCycle = errors.New("handler: assignment would create a cycle")

// Request and Response are the minimal surfaces handle() needs; the
// concrete types live in httpchannel and satisfy these via embedding,
// keeping this package free of an import on httpchannel.
type Request interface {
	Context() context.Context
}

type Response interface {
	Committed() bool
}

// Handler is implemented by every node in the tree. Handle reports
// true if this handler (or something it delegated to) has taken
// responsibility for producing a response.
type Handler interface {
	Handle(req Request, resp Response) (bool, error)

	// Server returns the owning root, set by SetHandler when this
	// handler is attached somewhere under a Server's tree. nil before
	// attachment.
	Server() interface{}
	setServer(s interface{})
}

// base is embedded by every concrete handler to provide the Server
// bookkeeping all variants share.
type base struct {
	server atomic.Value // interface{}
}

func (b *base) Server() interface{} {
	v := b.server.Load()
	if v == nil {
		return nil
	}
	return v.(srvBox).v
}

func (b *base) setServer(s interface{}) {
	b.server.Store(srvBox{s})
}

type srvBox struct{ v interface{} }

// Leaf wraps a user-supplied handling function with no children — the
// terminal node most request handling logic lives in.
type Leaf struct {
	base
	Func func(req Request, resp Response) (bool, error)
}

func NewLeaf(fn func(Request, Response) (bool, error)) *Leaf {
	return &Leaf{Func: fn}
}

func (l *Leaf) Handle(req Request, resp Response) (bool, error) {
	if l.Func == nil {
		return false, nil
	}
	return l.Func(req, resp)
}

// Wrapper delegates to zero or one child, optionally pre/post
// processing around it. Exceptions (errors) from the child propagate
// unchanged, per spec.md §4.4's wrapper semantics.
type Wrapper struct {
	base
	Child  Handler
	Before func(req Request, resp Response) error
	After  func(req Request, resp Response) error
}

func NewWrapper(child Handler) *Wrapper {
	return &Wrapper{Child: child}
}

func (w *Wrapper) Handle(req Request, resp Response) (bool, error) {
	if w.Before != nil {
		if err := w.Before(req, resp); err != nil {
			return false, err
		}
	}
	if w.Child == nil {
		return false, nil
	}
	handled, err := w.Child.Handle(req, resp)
	if w.After != nil {
		if aerr := w.After(req, resp); aerr != nil && err == nil {
			err = aerr
		}
	}
	return handled, err
}

// SetChild attaches child, enforcing the no-cycle invariant and
// propagating this handler's Server assignment (if any) downward.
func (w *Wrapper) SetChild(child Handler) error {
	if child != nil && introducesCycle(w, child) {
		return ErrCycle
	}
	w.Child = child
	if child != nil {
		if s := w.Server(); s != nil {
			attachServer(child, s)
		}
	}
	return nil
}

// Collection holds an ordered list of children; the first to return
// true wins. SetHandlers publishes a new immutable snapshot via
// atomic pointer swap so concurrent Handle calls never observe a
// partially-updated list — the same copy-on-write, lock-free-read
// pattern as the connector/endpoint state fields elsewhere in this
// module.
type Collection struct {
	base
	children atomic.Pointer[[]Handler]
}

func NewCollection(children ...Handler) *Collection {
	c := &Collection{}
	snap := append([]Handler(nil), children...)
	c.children.Store(&snap)
	return c
}

func (c *Collection) Handle(req Request, resp Response) (bool, error) {
	snap := c.children.Load()
	if snap == nil {
		return false, nil
	}
	for _, h := range *snap {
		handled, err := h.Handle(req, resp)
		if err != nil {
			return handled, err
		}
		if handled {
			return true, nil
		}
	}
	return false, nil
}

// SetHandlers atomically replaces the child list. Existing in-flight
// Handle calls keep iterating whatever snapshot they already loaded.
func (c *Collection) SetHandlers(children ...Handler) error {
	for _, child := range children {
		if introducesCycle(c, child) {
			return ErrCycle
		}
	}
	snap := append([]Handler(nil), children...)
	c.children.Store(&snap)
	if s := c.Server(); s != nil {
		for _, child := range children {
			attachServer(child, s)
		}
	}
	return nil
}

// AddHandler appends one handler to the current snapshot, publishing
// a new slice (copy-on-write: the old snapshot is left untouched for
// any reader still iterating it).
func (c *Collection) AddHandler(h Handler) error {
	if introducesCycle(c, h) {
		return ErrCycle
	}
	var next []Handler
	if snap := c.children.Load(); snap != nil {
		next = append(next, *snap...)
	}
	next = append(next, h)
	c.children.Store(&next)
	if s := c.Server(); s != nil {
		attachServer(h, s)
	}
	return nil
}

// Handlers returns the current snapshot (read-only; callers must not
// mutate it).
func (c *Collection) Handlers() []Handler {
	if snap := c.children.Load(); snap != nil {
		return *snap
	}
	return nil
}

// Scoped implements the two-phase scope/handle protocol: DoScope runs
// top-down across every Scoped ancestor before any DoHandle runs, and
// the outermost Scoped's DoHandle may call NextHandle to continue
// into its child.
type Scoped struct {
	base
	Child Handler

	// DoScope sets up this handler's scope, calls next(), then tears
	// the scope down — a try/finally shape expressed as a callback so
	// the wrapping happens for all scoped ancestors automatically.
	DoScope func(req Request, resp Response, next func() error) error

	// DoHandle runs once scope set-up for the whole ancestor chain has
	// completed. next continues into Child.
	DoHandle func(req Request, resp Response, next func(Request, Response) (bool, error)) (bool, error)
}

func NewScoped(child Handler) *Scoped {
	return &Scoped{Child: child}
}

// Handle sets up scope top-to-bottom across the contiguous run of
// Scoped descendants starting at s (the "thread-local outer-scope
// guard" from spec.md §4.4 is unnecessary here: Go gives each request
// its own goroutine and call stack, so there is no shared guard to
// protect — the chain is simply discovered once per call), then runs
// the DoHandle phase from the outermost Scoped down: each one's
// nextHandle continues into the next Scoped's DoHandle (a Scoped
// without a DoHandle passes straight through), and the innermost one's
// continues into whatever comes after the scoped run.
func (s *Scoped) Handle(req Request, resp Response) (bool, error) {
	chain := []*Scoped{s}
	var afterScopes Handler = s.Child
	for {
		next, ok := afterScopes.(*Scoped)
		if !ok {
			break
		}
		chain = append(chain, next)
		afterScopes = next.Child
	}

	var handled bool
	var handleErr error
	var setup func(i int) error
	setup = func(i int) error {
		if i == len(chain) {
			handled, handleErr = chain[0].invokeHandle(chain, 0, req, resp, afterScopes)
			return handleErr
		}
		return chain[i].runScope(req, resp, func() error { return setup(i + 1) })
	}
	if err := setup(0); err != nil && handleErr == nil {
		return handled, err
	}
	return handled, handleErr
}

func (s *Scoped) runScope(req Request, resp Response, next func() error) error {
	if s.DoScope == nil {
		return next()
	}
	return s.DoScope(req, resp, next)
}

func (s *Scoped) invokeHandle(chain []*Scoped, i int, req Request, resp Response, afterScopes Handler) (bool, error) {
	nextHandle := func(r Request, rr Response) (bool, error) {
		if i+1 < len(chain) {
			return chain[i+1].invokeHandle(chain, i+1, r, rr, afterScopes)
		}
		if afterScopes == nil {
			return false, nil
		}
		return afterScopes.Handle(r, rr)
	}
	if s.DoHandle != nil {
		return s.DoHandle(req, resp, nextHandle)
	}
	return nextHandle(req, resp)
}

func (s *Scoped) SetChild(child Handler) error {
	if child != nil && introducesCycle(s, child) {
		return ErrCycle
	}
	s.Child = child
	if child != nil {
		if srv := s.Server(); srv != nil {
			attachServer(child, srv)
		}
	}
	return nil
}

// SetHandler attaches root under owner (typically relay.Server),
// enforcing the Server-assignment invariant: a handler tree is
// attached to exactly one Server, recorded on every node.
func SetHandler(owner interface{}, root Handler) error {
	if root == nil {
		return nil
	}
	attachServer(root, owner)
	return nil
}

func attachServer(h Handler, owner interface{}) {
	h.setServer(owner)
	switch v := h.(type) {
	case *Wrapper:
		if v.Child != nil {
			attachServer(v.Child, owner)
		}
	case *Scoped:
		if v.Child != nil {
			attachServer(v.Child, owner)
		}
	case *Collection:
		for _, child := range v.Handlers() {
			attachServer(child, owner)
		}
	}
}

// introducesCycle reports whether attaching candidate under parent
// would create a cycle — i.e. candidate already has parent somewhere
// in its own descendant chain.
func introducesCycle(parent Handler, candidate Handler) bool {
	if candidate == nil {
		return false
	}
	if candidate == parent {
		return true
	}
	return containsDescendant(candidate, parent)
}

func containsDescendant(root Handler, target Handler) bool {
	if root == target {
		return true
	}
	switch v := root.(type) {
	case *Wrapper:
		return v.Child != nil && containsDescendant(v.Child, target)
	case *Scoped:
		return v.Child != nil && containsDescendant(v.Child, target)
	case *Collection:
		for _, child := range v.Handlers() {
			if containsDescendant(child, target) {
				return true
			}
		}
	}
	return false
}
