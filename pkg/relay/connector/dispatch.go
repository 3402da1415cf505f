package connector

import (
	"context"

	"github.com/relayhttp/relay/pkg/relay/executor"
)

// dispatcherAdapter bridges executor.Pool's (ctx, fn) error signature
// to httpconn.Dispatcher's narrower Submit(fn func()), so a Connector
// can hand its bounded pool straight to every httpconn.Connection it
// builds. A nil pool means unbounded dispatch: Submit just spawns fn
// on its own goroutine, matching the teacher's bare
// `go s.handleConnection(conn)`.
type dispatcherAdapter struct {
	pool *executor.Pool
}

// Submit satisfies httpconn.Dispatcher.
func (d dispatcherAdapter) Submit(fn func()) {
	if d.pool == nil {
		go fn()
		return
	}
	// Submit's context only gates admission to the pool, not fn's
	// runtime; background is correct here since nothing upstream holds
	// a cancellable context for "this connection's next request".
	d.pool.Submit(context.Background(), fn)
}
