// Package listener implements the listener supervisor (C6): it binds
// the TCP sockets named in configuration and hands every accepted
// connection to the acceptor (C5) for protocol classification.
package listener

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/drake/portal/accept"
	"github.com/drake/portal/config"
	"github.com/drake/portal/msg"
)

// Listener is one bound-socket-to-be: config resolved into a dial
// address and an optional TLS configuration, not yet listening.
type Listener struct {
	name        string
	addr        string
	tlsConfig   *tls.Config
	maxBuffer   int
	cmdInitPath string
}

// Build resolves every configured listener's interface and (if any) TLS
// bundle into a ready-to-serve Listener. Config validation (unknown
// interface/tls names) already happened in config.Load; this only turns
// names into addresses and certificates.
func Build(cfg *config.Config, maxBuffer int) ([]*Listener, error) {
	out := make([]*Listener, 0, len(cfg.Listeners))
	for name, l := range cfg.Listeners {
		addr := fmt.Sprintf("%s:%d", cfg.Interfaces[l.Interface], l.Port)

		var tlsConf *tls.Config
		if l.TLSName != "" {
			bundle := cfg.TLS[l.TLSName]
			cert, err := tls.LoadX509KeyPair(bundle.CertFile, bundle.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("listener %q: load tls bundle %q: %w", name, l.TLSName, err)
			}
			tlsConf = &tls.Config{Certificates: []tls.Certificate{cert}}
		}

		out = append(out, &Listener{name: name, addr: addr, tlsConfig: tlsConf, maxBuffer: maxBuffer, cmdInitPath: cfg.CommandsFile})
	}
	return out, nil
}

// Serve binds and accepts on l until ctx is cancelled. Each accepted
// connection is handed to the acceptor (C5) on its own goroutine; a
// per-connection accept error is logged and the loop continues (§4.6).
// onReady, if given, is called once with the listener's actual bound
// address — mainly so tests can bind to an ephemeral port (":0") and
// learn which port the kernel picked.
func (l *Listener) Serve(ctx context.Context, inbound chan<- msg.SessionEvent, onReady ...func(net.Addr)) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listener %q: listen %s: %w", l.name, l.addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Printf("listener %q: listening on %s", l.name, ln.Addr())
	for _, f := range onReady {
		f(ln.Addr())
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			log.Printf("listener %q: accept error: %v", l.name, err)
			continue
		}
		go accept.Accept(ctx, conn, l.tlsConfig, inbound, l.maxBuffer, accept.LogClose, l.cmdInitPath)
	}
}

// Addr reports the bind address this listener was built with, mostly
// useful for tests that bind to an ephemeral port.
func (l *Listener) Addr() string { return l.addr }

// Supervise runs every listener concurrently until ctx is cancelled.
// An individual listener's bind failure is logged, not fatal to the
// others (§4.6's "on accept error, log and continue" extends here to
// bind failures across independently configured listeners).
func Supervise(ctx context.Context, listeners []*Listener, inbound chan<- msg.SessionEvent) {
	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func(l *Listener) {
			defer wg.Done()
			if err := l.Serve(ctx, inbound); err != nil {
				log.Printf("%v", err)
			}
		}(l)
	}
	wg.Wait()
}
