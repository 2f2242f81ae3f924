package listener

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/drake/portal/config"
	"github.com/drake/portal/msg"
)

func TestBuildResolvesInterfaceAndPort(t *testing.T) {
	cfg := &config.Config{
		Listeners: map[string]config.Listener{
			"main": {Interface: "any", Port: 4000, Protocol: "telnet"},
		},
		Interfaces: map[string]string{"any": "0.0.0.0"},
		TLS:        map[string]config.TLSBundle{},
	}

	listeners, err := Build(cfg, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listeners) != 1 {
		t.Fatalf("expected 1 listener, got %d", len(listeners))
	}
	if got := listeners[0].Addr(); got != "0.0.0.0:4000" {
		t.Fatalf("unexpected address: %q", got)
	}
}

func TestBuildFailsOnMissingTLSFiles(t *testing.T) {
	cfg := &config.Config{
		Listeners: map[string]config.Listener{
			"secure": {Interface: "any", Port: 4001, TLSName: "site", Protocol: "telnet"},
		},
		Interfaces: map[string]string{"any": "0.0.0.0"},
		TLS: map[string]config.TLSBundle{
			"site": {CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"},
		},
	}

	if _, err := Build(cfg, 0); err == nil {
		t.Fatal("expected an error loading a nonexistent tls bundle")
	}
}

func TestServeAcceptsAndSpawnsSession(t *testing.T) {
	cfg := &config.Config{
		Listeners: map[string]config.Listener{
			"main": {Interface: "any", Port: 0, Protocol: "telnet"},
		},
		Interfaces: map[string]string{"any": "127.0.0.1"},
		TLS:        map[string]config.TLSBundle{},
	}
	listeners, err := Build(cfg, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbound := make(chan msg.SessionEvent, 4)
	ready := make(chan net.Addr, 1)
	go listeners[0].Serve(ctx, inbound, func(addr net.Addr) { ready <- addr })

	var addr net.Addr
	select {
	case addr = <-ready:
	case <-time.After(time.Second):
		t.Fatal("listener never became ready")
	}

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case ev := <-inbound:
		if ev.Kind != msg.SessionConnected {
			t.Fatalf("expected SessionConnected, got %v", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a session to register")
	}
}
