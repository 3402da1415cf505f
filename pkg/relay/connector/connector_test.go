package connector

import (
	"bufio"
	"net/http"
	"testing"
	"time"

	"github.com/relayhttp/relay/pkg/relay/buffer"
	"github.com/relayhttp/relay/pkg/relay/endpoint"
	"github.com/relayhttp/relay/pkg/relay/handler"
	"github.com/relayhttp/relay/pkg/relay/httpchannel"
)

func echoHandler() handler.Handler {
	return handler.NewLeaf(func(req handler.Request, resp handler.Response) (bool, error) {
		r := req.(*httpchannel.Request)
		w := resp.(*httpchannel.Response)
		w.SetHeader("Content-Type", []byte("text/plain"))
		w.WriteHeader(200)
		w.Write([]byte("path=" + string(r.Path)))
		return true, nil
	})
}

func newTestLocalConnector() *LocalConnector {
	cfg := Config{
		Name: "test",
		Factories: []Factory{
			&HTTPFactory{},
		},
		Root: echoHandler(),
		Pool: buffer.New(),
	}
	return NewLocal(cfg)
}

func TestLocalConnectorRoundTrip(t *testing.T) {
	lc := newTestLocalConnector()
	conn := lc.Dial()
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte("GET /hello HTTP/1.1\r\nHost: test\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestLocalConnectorStatsTrackOpenAndClose(t *testing.T) {
	lc := newTestLocalConnector()
	conn := lc.Dial()

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	conn.Write([]byte("GET / HTTP/1.1\r\nHost: test\r\nConnection: close\r\n\r\n"))
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	resp.Body.Close()
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if lc.Stats().Snapshot().Closed >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap := lc.Stats().Snapshot()
	if snap.Opened != 1 {
		t.Fatalf("Opened = %d, want 1", snap.Opened)
	}
	if snap.Closed != 1 {
		t.Fatalf("Closed = %d, want 1", snap.Closed)
	}
	if snap.Open != 0 {
		t.Fatalf("Open = %d, want 0", snap.Open)
	}
}

func TestDetectResultString(t *testing.T) {
	cases := map[DetectResult]string{
		NeedMoreBytes: "NEED_MORE_BYTES",
		Recognized:    "RECOGNIZED",
		NotRecognized: "NOT_RECOGNIZED",
	}
	for result, want := range cases {
		if got := result.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", result, got, want)
		}
	}
}

func TestFactoryByNameMatchesAltNames(t *testing.T) {
	c := New(Config{Factories: []Factory{&HTTPFactory{}}})
	if f := c.factoryByName("http/1.1"); f == nil {
		t.Fatal("expected http/1.1 to resolve")
	}
	if f := c.factoryByName("nonsense"); f != nil {
		t.Fatal("expected unknown protocol name to miss")
	}
}

// noopConnection is the minimal endpoint.Connection a successful
// h2c hand-off transfers the endpoint to; it records that it was
// ever opened and otherwise does nothing, since exercising actual
// HTTP/2 framing is out of scope here (see H2CFactory).
type noopConnection struct {
	opened chan struct{}
}

func (n *noopConnection) OnOpen()           { close(n.opened) }
func (n *noopConnection) OnClose(err error) {}

func TestUpgradeH2CHandsOffConnection(t *testing.T) {
	handed := make(chan struct{})
	h2c := &H2CFactory{
		Next: func(c *Connector, ep endpoint.Endpoint) endpoint.Connection {
			return &noopConnection{opened: handed}
		},
	}
	cfg := Config{
		Name: "test",
		Factories: []Factory{
			&HTTPFactory{Upgrading: []UpgradingFactory{h2c}},
		},
		Root: echoHandler(),
		Pool: buffer.New(),
	}
	lc := NewLocal(cfg)
	conn := lc.Dial()
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	req := "GET / HTTP/1.1\r\nHost: test\r\nConnection: Upgrade\r\nUpgrade: h2c\r\n\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if statusLine != "HTTP/1.1 101 Switching Protocols\r\n" {
		t.Fatalf("status line = %q", statusLine)
	}

	select {
	case <-handed:
	case <-time.After(2 * time.Second):
		t.Fatal("H2CFactory.Next was never called: connection was not handed off")
	}
}

func TestWelfordMeanAndStddev(t *testing.T) {
	var w welford
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		w.add(v)
	}
	if w.mean != 5 {
		t.Fatalf("mean = %v, want 5", w.mean)
	}
	if got := w.stddev(); got < 1.9 || got > 2.1 {
		t.Fatalf("stddev = %v, want ~2", got)
	}
}
