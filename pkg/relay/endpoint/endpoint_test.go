package endpoint

import (
	"io"
	"testing"
	"time"
)

func TestLocalPairRoundTrip(t *testing.T) {
	server, client := NewLocalPair()
	defer server.Close()
	defer client.Close()

	go func() {
		client.Write([]byte("hello"))
	}()

	buf := make([]byte, 16)
	n, err := server.Fill(buf)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q, want hello", buf[:n])
	}
}

func TestFillAfterCloseReturnsClosed(t *testing.T) {
	server, client := NewLocalPair()
	client.Close()
	server.Close()

	_, err := server.Fill(make([]byte, 8))
	if err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestFillReportsEOF(t *testing.T) {
	server, client := NewLocalPair()
	defer server.Close()
	client.Close()

	_, err := server.Fill(make([]byte, 8))
	if err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
	if !server.IsInputShutdown() {
		t.Fatalf("expected IsInputShutdown after EOF")
	}
}

func TestSetIdleTimeoutStored(t *testing.T) {
	server, client := NewLocalPair()
	defer server.Close()
	defer client.Close()

	server.SetIdleTimeout(5 * time.Second)
	if server.idleDeadline() != 5*time.Second {
		t.Fatalf("idleDeadline = %v, want 5s", server.idleDeadline())
	}
}
