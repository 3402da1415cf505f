package httpconfig

import (
	"net"
	"testing"

	"github.com/relayhttp/relay/pkg/relay/httpchannel"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

type fakeConnInfo struct {
	name   string
	secure bool
}

func (f fakeConnInfo) Name() string { return f.name }
func (f fakeConnInfo) Secure() bool { return f.secure }

func newTestRequest() *httpchannel.Request {
	return &httpchannel.Request{Attributes: make(map[string]interface{})}
}

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.OutputBufferSize != 32*1024 {
		t.Fatalf("OutputBufferSize = %d", cfg.OutputBufferSize)
	}
	if cfg.OutputAggregationSize != cfg.OutputBufferSize/4 {
		t.Fatalf("OutputAggregationSize = %d, want buffer/4", cfg.OutputAggregationSize)
	}
	if cfg.MaxErrorDispatches != 10 {
		t.Fatalf("MaxErrorDispatches = %d", cfg.MaxErrorDispatches)
	}
	if !cfg.FormEncodedMethods["POST"] || !cfg.FormEncodedMethods["PUT"] {
		t.Fatalf("expected POST and PUT to be form-encoded by default")
	}
}

func TestHostHeaderCustomizerSynthesizesMissingHost(t *testing.T) {
	req := newTestRequest()
	req.LocalAddr = fakeAddr("10.0.0.1:8080")
	cfg := &Config{}
	out := HostHeaderCustomizer(fakeConnInfo{}, cfg, req)
	if out.Header.GetString("Host") != "10.0.0.1:8080" {
		t.Fatalf("Host = %q", out.Header.GetString("Host"))
	}
}

func TestHostHeaderCustomizerLeavesExistingHost(t *testing.T) {
	req := newTestRequest()
	req.Header.Set("Host", []byte("example.com"))
	cfg := &Config{ServerAuthority: "other.example"}
	out := HostHeaderCustomizer(fakeConnInfo{}, cfg, req)
	if out.Header.GetString("Host") != "example.com" {
		t.Fatalf("Host = %q, want unchanged", out.Header.GetString("Host"))
	}
}

func TestForwardedRequestCustomizerTakesLeftmost(t *testing.T) {
	req := newTestRequest()
	req.Header.Set("X-Forwarded-For", []byte("203.0.113.5, 10.0.0.2"))
	req.Header.Set("X-Forwarded-Proto", []byte("https"))
	cfg := &Config{}
	customizer := ForwardedRequestCustomizer(DefaultForwardedHeaders())
	out := customizer(fakeConnInfo{}, cfg, req)

	forwardedFor, ok := out.Attribute(AttrForwardedFor)
	if !ok || forwardedFor != "203.0.113.5" {
		t.Fatalf("forwarded-for = %v, ok=%v", forwardedFor, ok)
	}
	if out.Scheme != "https" {
		t.Fatalf("scheme = %q, want https", out.Scheme)
	}
}

func TestApplyCustomizersRunsInOrder(t *testing.T) {
	var order []string
	cfg := &Config{
		Customizers: []Customizer{
			func(conn ConnectorInfo, c *Config, req *httpchannel.Request) *httpchannel.Request {
				order = append(order, "first")
				return req
			},
			func(conn ConnectorInfo, c *Config, req *httpchannel.Request) *httpchannel.Request {
				order = append(order, "second")
				return req
			},
		},
	}
	ApplyCustomizers(fakeConnInfo{}, cfg, newTestRequest())
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("order = %v", order)
	}
}

var _ net.Addr = fakeAddr("")
