// Package accept implements the acceptor and protocol disambiguator
// (C5): given a freshly accepted transport, it peeks a bounded number of
// bytes for a bounded time to classify the stream as TLS, HTTP, or plain
// Telnet, then dispatches accordingly (§4.5).
package accept

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"log"
	"net"
	"time"

	"github.com/drake/portal/msg"
	"github.com/drake/portal/session"
)

// peekWindow bounds both the TLS and the HTTP detection peek (§4.5, §5).
const peekWindow = 50 * time.Millisecond

// httpPeekCap is the largest prefix inspected while classifying HTTP
// (§4.5: "up to 50 ms and ≤512 bytes").
const httpPeekCap = 512

var httpMethods = [...]string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS", "CONNECT", "PATCH"}

// HTTPHandler is invoked when a connection classifies as HTTP (§4.5 step
// 2). conn's read position is undisturbed — everything peeked during
// classification is still unread and available through conn.
type HTTPHandler func(conn net.Conn)

// Accept classifies conn and dispatches it: a TLS-upgraded connection goes
// straight to a Telnet session without HTTP classification; otherwise HTTP
// goes to onHTTP (closing the connection if nil), and anything else to a
// new Telnet session actor (§4.4) registered against inbound. It blocks for the lifetime of
// whichever path it dispatches to.
//
// tlsConfig may be nil, in which case TLS detection is skipped entirely
// and every connection is classified as HTTP-or-Telnet only. cmdInitPath
// is passed straight through to session.New (§4.4's local command hook);
// an empty path means no local commands are available.
func Accept(ctx context.Context, conn net.Conn, tlsConfig *tls.Config, inbound chan<- msg.SessionEvent, maxBuffer int, onHTTP HTTPHandler, cmdInitPath string) {
	tlsEngaged := false

	if tlsConfig != nil {
		br := bufio.NewReaderSize(conn, 5)
		if looksLikeClientHello(conn, br) {
			conn = tls.Server(bufferedConn{Conn: conn, r: br}, tlsConfig)
			tlsEngaged = true
		} else {
			conn = bufferedConn{Conn: conn, r: br}
		}
	}

	br := bufio.NewReaderSize(conn, httpPeekCap)
	if !tlsEngaged {
		switch classifyHTTP(conn, br) {
		case httpComplete:
			if onHTTP != nil {
				onHTTP(bufferedConn{Conn: conn, r: br})
			} else {
				conn.Close()
			}
			return
		case httpInvalid, httpPartial:
			// Falls through to Telnet either way: an incomplete
			// request within the peek window is as good as invalid
			// for dispatch purposes (§4.5).
		}
	}

	sess := session.New(bufferedConn{Conn: conn, r: br}, tlsEngaged, maxBuffer, inbound, cmdInitPath)
	sess.Run(ctx)
}

// bufferedConn lets a bufio.Reader's already-buffered (peeked) bytes be
// consumed transparently by anything reading from the net.Conn
// interface afterwards — the concurrency hazard note in §9 ("the peek
// must be the only reader during classification... handed, still with
// its undisturbed read position") is satisfied by routing every
// subsequent read through the same reader that did the peeking.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

func looksLikeClientHello(conn net.Conn, br *bufio.Reader) bool {
	conn.SetReadDeadline(time.Now().Add(peekWindow))
	defer conn.SetReadDeadline(time.Time{})

	b, _ := br.Peek(3)
	if len(b) < 2 {
		return false
	}
	// Handshake content type, TLS major version 3 (SSLv3 through 1.3
	// all negotiate from a ClientHello tagged major version 3).
	return b[0] == 0x16 && b[1] == 0x03
}

type httpStatus int

const (
	httpPartial httpStatus = iota
	httpComplete
	httpInvalid
)

// classifyHTTP peeks up to httpPeekCap bytes, re-peeking within
// peekWindow until the request line either resolves or the window
// elapses, per §4.5's HttpRequestStatus tri-state.
func classifyHTTP(conn net.Conn, br *bufio.Reader) httpStatus {
	deadline := time.Now().Add(peekWindow)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return httpInvalid
		}
		conn.SetReadDeadline(deadline)
		b, _ := br.Peek(httpPeekCap)
		conn.SetReadDeadline(time.Time{})

		switch status := classifyRequestLine(b); status {
		case httpComplete, httpInvalid:
			return status
		case httpPartial:
			if len(b) >= httpPeekCap {
				return httpInvalid
			}
			time.Sleep(time.Millisecond)
		}
	}
}

func classifyRequestLine(b []byte) httpStatus {
	sp := bytes.IndexByte(b, ' ')
	if sp == -1 {
		for _, m := range httpMethods {
			n := len(m)
			if len(b) < n && bytes.Equal(b, []byte(m)[:len(b)]) {
				return httpPartial
			}
		}
		if len(b) == 0 {
			return httpPartial
		}
		return httpInvalid
	}

	method := string(b[:sp])
	known := false
	for _, m := range httpMethods {
		if method == m {
			known = true
			break
		}
	}
	if !known {
		return httpInvalid
	}

	rest := b[sp+1:]
	if bytes.Contains(rest, []byte(" HTTP/")) {
		return httpComplete
	}
	if bytes.IndexByte(rest, '\n') != -1 {
		return httpInvalid // a full line arrived with no " HTTP/" marker
	}
	return httpPartial
}

// LogClose is a minimal HTTPHandler: no player-facing WebSocket upgrade
// path is defined anywhere in this portal's component list (C1–C8 cover
// Telnet sessions and the single upstream backend link only), so the
// default behavior for an HTTP-classified connection is to log and
// close rather than invent an unspecified protocol surface.
func LogClose(conn net.Conn) {
	log.Printf("accept: http request on telnet port from %s, closing", conn.RemoteAddr())
	conn.Close()
}
