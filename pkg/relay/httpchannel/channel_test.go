package httpchannel

import (
	"context"
	"testing"

	"github.com/relayhttp/relay/pkg/relay/handler"
	"github.com/relayhttp/relay/pkg/relay/wire"
)

type fakeSink struct {
	commits []wire.ResponseMeta
	bodies  [][]byte
	lasts   []bool
}

func (f *fakeSink) Commit(meta wire.ResponseMeta) error {
	f.commits = append(f.commits, meta)
	return nil
}

func (f *fakeSink) WriteBody(buf []byte, last bool) error {
	f.bodies = append(f.bodies, append([]byte(nil), buf...))
	f.lasts = append(f.lasts, last)
	return nil
}

func newTestChannel(sink Sink, root handler.Handler, cfg Config) *Channel {
	return New(sink, nil, root, cfg)
}

func driveSimpleGET(t *testing.T, ch *Channel) *Request {
	t.Helper()
	req := ch.BeginRequest(context.Background(), wire.MethodGET, []byte("/hello"), wire.HTTP11)
	ch.ParsedHeader([]byte("Host"), []byte("example.com"))
	if err := ch.HeaderComplete(); err != nil {
		t.Fatalf("HeaderComplete: %v", err)
	}
	ch.ContentComplete()
	return req
}

func TestBeginRequestSplitsPathAndQuery(t *testing.T) {
	sink := &fakeSink{}
	root := handler.NewLeaf(func(req handler.Request, resp handler.Response) (bool, error) {
		return true, nil
	})
	ch := newTestChannel(sink, root, Config{PersistentConnectionsEnabled: true})
	req := ch.BeginRequest(context.Background(), wire.MethodGET, []byte("/a/b?x=1"), wire.HTTP11)
	if string(req.Path) != "/a/b" || string(req.Query) != "x=1" {
		t.Fatalf("path=%q query=%q", req.Path, req.Query)
	}
}

func TestHTTP11DefaultsPersistent(t *testing.T) {
	sink := &fakeSink{}
	root := handler.NewLeaf(func(req handler.Request, resp handler.Response) (bool, error) {
		resp.(*Response).Write([]byte("hi"))
		return true, nil
	})
	ch := newTestChannel(sink, root, Config{PersistentConnectionsEnabled: true})
	driveSimpleGET(t, ch)

	persistent, upgraded, err := ch.MessageComplete()
	if err != nil || upgraded {
		t.Fatalf("persistent=%v upgraded=%v err=%v", persistent, upgraded, err)
	}
	if !persistent {
		t.Fatalf("expected HTTP/1.1 request with no Connection header to be persistent")
	}
	if len(sink.commits) != 1 || sink.commits[0].Status != 200 {
		t.Fatalf("commits = %+v", sink.commits)
	}
}

func TestConnectionCloseOverridesPersistence(t *testing.T) {
	sink := &fakeSink{}
	root := handler.NewLeaf(func(req handler.Request, resp handler.Response) (bool, error) {
		return true, nil
	})
	ch := newTestChannel(sink, root, Config{PersistentConnectionsEnabled: true})
	ch.BeginRequest(context.Background(), wire.MethodGET, []byte("/"), wire.HTTP11)
	ch.ParsedHeader([]byte("Host"), []byte("x"))
	ch.ParsedHeader([]byte("Connection"), []byte("close"))
	ch.HeaderComplete()
	ch.ContentComplete()

	persistent, _, err := ch.MessageComplete()
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if persistent {
		t.Fatalf("expected Connection: close to force non-persistent")
	}
}

func TestHTTP10RequiresKeepAliveForPersistence(t *testing.T) {
	sink := &fakeSink{}
	root := handler.NewLeaf(func(req handler.Request, resp handler.Response) (bool, error) {
		return true, nil
	})
	ch := newTestChannel(sink, root, Config{PersistentConnectionsEnabled: true})
	ch.BeginRequest(context.Background(), wire.MethodGET, []byte("/"), wire.HTTP10)
	ch.ParsedHeader([]byte("Host"), []byte("x"))
	ch.HeaderComplete()
	ch.ContentComplete()

	persistent, _, _ := ch.MessageComplete()
	if persistent {
		t.Fatalf("HTTP/1.0 without Connection: keep-alive must not be persistent")
	}
}

func TestConnectIsNeverPersistent(t *testing.T) {
	sink := &fakeSink{}
	root := handler.NewLeaf(func(req handler.Request, resp handler.Response) (bool, error) {
		return true, nil
	})
	ch := newTestChannel(sink, root, Config{PersistentConnectionsEnabled: true})
	ch.BeginRequest(context.Background(), wire.MethodCONNECT, []byte("example.com:443"), wire.HTTP11)
	ch.ParsedHeader([]byte("Host"), []byte("example.com"))
	ch.HeaderComplete()
	ch.ContentComplete()

	persistent, _, _ := ch.MessageComplete()
	if persistent {
		t.Fatalf("CONNECT must never be persistent")
	}
}

func TestUnhandledRequestIs404(t *testing.T) {
	sink := &fakeSink{}
	root := handler.NewLeaf(func(req handler.Request, resp handler.Response) (bool, error) {
		return false, nil
	})
	ch := newTestChannel(sink, root, Config{PersistentConnectionsEnabled: true})
	driveSimpleGET(t, ch)
	ch.MessageComplete()
	if len(sink.commits) != 1 || sink.commits[0].Status != 404 {
		t.Fatalf("commits = %+v", sink.commits)
	}
}

func TestHandlerErrorDispatchesAndCapsRetries(t *testing.T) {
	sink := &fakeSink{}
	calls := 0
	root := handler.NewLeaf(func(req handler.Request, resp handler.Response) (bool, error) {
		calls++
		r := req.(*Request)
		if r.Dispatch == DispatchRequest {
			return false, errBoom
		}
		return false, errBoom
	})
	ch := newTestChannel(sink, root, Config{PersistentConnectionsEnabled: true, MaxErrorDispatches: 2})
	driveSimpleGET(t, ch)
	_, _, err := ch.MessageComplete()
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if sink.commits[0].Status != 500 {
		t.Fatalf("expected 500 after exhausting error dispatches, got %+v", sink.commits)
	}
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestContinue100FiresOnFirstBodyRead(t *testing.T) {
	sink := &fakeSink{}
	var gotBody []byte
	root := handler.NewLeaf(func(req handler.Request, resp handler.Response) (bool, error) {
		r := req.(*Request)
		buf := make([]byte, 16)
		n, _ := r.Body().Read(buf)
		gotBody = buf[:n]
		return true, nil
	})
	ch := newTestChannel(sink, root, Config{PersistentConnectionsEnabled: true})
	ch.BeginRequest(context.Background(), wire.MethodPOST, []byte("/u"), wire.HTTP11)
	ch.ParsedHeader([]byte("Host"), []byte("x"))
	ch.ParsedHeader([]byte("Expect"), []byte("100-continue"))
	// HeaderComplete sees the Expect header and leaves starting the
	// Handler tree to Continue100 below, so the 100-continue hook is
	// always registered on the body before the handler can possibly
	// call Body().Read() on a concurrent goroutine — mirroring how
	// wire.Parser actually drives these two callbacks back to back for
	// a real blocking socket read.
	if err := ch.HeaderComplete(); err != nil {
		t.Fatalf("HeaderComplete: %v", err)
	}
	ch.Continue100(false)
	ch.Content([]byte("abc"))
	ch.ContentComplete()

	_, _, err := ch.MessageComplete()
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if string(gotBody) != "abc" {
		t.Fatalf("body = %q", gotBody)
	}
	if len(sink.commits) < 2 || sink.commits[0].Status != 100 {
		t.Fatalf("expected a 100 Continue commit before the final response, got %+v", sink.commits)
	}
}
