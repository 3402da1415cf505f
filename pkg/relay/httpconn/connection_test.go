package httpconn

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/relayhttp/relay/pkg/relay/buffer"
	"github.com/relayhttp/relay/pkg/relay/endpoint"
	"github.com/relayhttp/relay/pkg/relay/handler"
	"github.com/relayhttp/relay/pkg/relay/httpchannel"
)

func newTestPair(t *testing.T, root handler.Handler) (*Connection, net.Conn) {
	t.Helper()
	server, client := endpoint.NewLocalPair()
	c := New(server, buffer.New(), nil, nil, root, Config{Channel: httpchannel.Config{
		PersistentConnectionsEnabled: true,
		SendServerVersion:            true,
	}})
	c.OnOpen()
	return c, client
}

func echoHandler(body string) handler.Handler {
	return handler.NewLeaf(func(req handler.Request, resp handler.Response) (bool, error) {
		resp.(*httpchannel.Response).WriteHeader(200)
		resp.(*httpchannel.Response).Write([]byte(body))
		return true, nil
	})
}

func TestConnectionServesSimpleRequest(t *testing.T) {
	_, client := newTestPair(t, echoHandler("hello"))
	client.SetDeadline(time.Now().Add(2 * time.Second))

	io.WriteString(client, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello" {
		t.Fatalf("body = %q, want %q", body, "hello")
	}
}

func TestConnectionClosesOnHTTP10(t *testing.T) {
	_, client := newTestPair(t, echoHandler("bye"))
	client.SetDeadline(time.Now().Add(2 * time.Second))

	io.WriteString(client, "GET / HTTP/1.0\r\n\r\n")

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	defer resp.Body.Close()
	if !resp.Close {
		t.Fatalf("expected Connection: close on HTTP/1.0 without keep-alive, got Connection=%q", resp.Header.Get("Connection"))
	}
}

func TestConnectionPipelinesPersistentRequests(t *testing.T) {
	_, client := newTestPair(t, echoHandler("x"))
	client.SetDeadline(time.Now().Add(2 * time.Second))

	io.WriteString(client, "GET / HTTP/1.1\r\nHost: a\r\n\r\nGET / HTTP/1.1\r\nHost: a\r\n\r\n")

	r := bufio.NewReader(client)
	for i := 0; i < 2; i++ {
		resp, err := http.ReadResponse(r, nil)
		if err != nil {
			t.Fatalf("ReadResponse #%d: %v", i, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if string(body) != "x" {
			t.Fatalf("response #%d body = %q, want %q", i, body, "x")
		}
	}
}

func TestConnectionBadRequestLine(t *testing.T) {
	unreached := handler.NewLeaf(func(req handler.Request, resp handler.Response) (bool, error) {
		return false, nil
	})
	_, client := newTestPair(t, unreached)
	client.SetDeadline(time.Now().Add(2 * time.Second))

	io.WriteString(client, "not a request\r\n\r\n")

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
