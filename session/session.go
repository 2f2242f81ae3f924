// Package session implements the telnet session actor (C4): one
// goroutine per accepted connection, owning a telnet.Codec and
// telnet.Negotiator, driving the protocol to readiness, and translating
// between wire events and the msg package's session/hub contract.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/drake/portal/internal/connid"
	"github.com/drake/portal/localcmd"
	"github.com/drake/portal/msg"
	"github.com/drake/portal/telnet"
)

const (
	negotiationDeadline = 100 * time.Millisecond
	tickInterval        = 100 * time.Millisecond
	idleTimeout         = 30 * time.Minute
	outboundCapacity    = 10
)

// Session is the per-connection actor (C4). It is created by the
// acceptor (C5) once a transport has been classified as Telnet, and runs
// until the connection closes or the hub asks it to.
type Session struct {
	id   uint64
	conn net.Conn
	addr string

	codec *telnet.Codec
	neg   *telnet.Negotiator
	caps  telnet.Capabilities

	inbound  chan<- msg.SessionEvent // the hub's shared inbound channel
	outbound chan msg.Envelope       // this session's own outbound queue

	staging []byte
	ready   bool

	// msspTable is the session's current view of the MSSP record set
	// last pushed by the backend. It is kept around so an unsolicited
	// inbound MSSP query gets the same answer a push would have given,
	// even if the table is still empty.
	msspTable map[string]string
	cmds      *localcmd.Engine

	lastActivity time.Time
	running      bool

	done chan struct{}
	ctx  context.Context
}

// New builds a Session over an already-accepted (and, if applicable,
// already TLS-upgraded) connection. tlsEngaged and maxBuffer come from
// the acceptor's classification (§4.5); inbound is the hub's shared
// inbound channel. The hub learns this session's own outbound channel
// once, when SessionConnected fires.
// cmdInitPath names an optional Lua script defining local "//" commands
// (§4.4); an empty path means no local commands are available.
func New(conn net.Conn, tlsEngaged bool, maxBuffer int, inbound chan<- msg.SessionEvent, cmdInitPath string) *Session {
	s := &Session{
		id:       connid.Next(),
		conn:     conn,
		addr:     conn.RemoteAddr().String(),
		codec:    telnet.NewCodec(maxBuffer),
		caps:     telnet.DefaultCapabilities(),
		inbound:  inbound,
		outbound: make(chan msg.Envelope, outboundCapacity),
		done:     make(chan struct{}),

		msspTable: map[string]string{},
	}
	s.caps.TLS = tlsEngaged
	s.neg = telnet.NewNegotiator(telnet.DefaultPolicy(), &s.caps)

	s.cmds = localcmd.New(s)
	if err := s.cmds.Init(cmdInitPath); err != nil {
		log.Printf("session %d: local commands: %v", s.id, err)
	}
	return s
}

// Outbound returns the channel the hub should retain to deliver envelopes
// to this session. It is only meaningful once SessionConnected has fired.
func (s *Session) Outbound() chan<- msg.Envelope {
	return s.outbound
}

// Run drives the session to completion. It blocks until the connection
// is lost, the codec fails, the hub closes the session, or ctx is
// cancelled. All owned resources are released on return.
func (s *Session) Run(ctx context.Context) {
	s.ctx = ctx
	s.lastActivity = time.Now()
	s.running = true

	defer func() {
		close(s.done)
		s.conn.Close()
		s.codec.Close()
		s.cmds.Close()
	}()

	reads := make(chan readResult, 1)
	go s.readLoop(reads)

	s.flush(s.neg.Start())
	if !s.running {
		return
	}

	deadlineTimer := time.NewTimer(negotiationDeadline)
	defer deadlineTimer.Stop()
	deadlineC := deadlineTimer.C

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for s.running {
		select {
		case <-ctx.Done():
			return

		case r, ok := <-reads:
			if !ok {
				return
			}
			s.handleRead(r)

		case env, ok := <-s.outbound:
			if !ok {
				return
			}
			s.handleOutbound(env)

		case <-deadlineC:
			deadlineC = nil
			s.becomeReady()

		case <-ticker.C:
			if time.Since(s.lastActivity) > idleTimeout {
				s.disconnect("idle")
			}
		}
	}
}

type readResult struct {
	data []byte
	err  error
}

// readLoop is the one blocking-Read goroutine per session. It exits as
// soon as Run closes s.done (via conn.Close unblocking the pending Read,
// or by declining to send a result once done is already closed).
func (s *Session) readLoop(out chan<- readResult) {
	defer close(out)
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			select {
			case out <- readResult{data: data}:
			case <-s.done:
				return
			}
		}
		if err != nil {
			select {
			case out <- readResult{err: err}:
			case <-s.done:
			}
			return
		}
	}
}

func (s *Session) handleRead(r readResult) {
	if r.err != nil {
		s.disconnect("disconnected")
		return
	}
	s.lastActivity = time.Now()

	events, err := s.codec.Decode(r.data)
	if err != nil {
		log.Printf("session %d: %v", s.id, err)
		s.disconnect("framing")
		return
	}
	for _, ev := range events {
		if !s.running {
			return
		}
		s.handleEvent(ev)
	}
	if !s.ready && s.neg.Ready() {
		s.becomeReady()
	}
}

func (s *Session) handleEvent(ev telnet.Event) {
	switch ev.Kind {
	case telnet.EventNegotiate:
		s.flush(s.neg.HandleNegotiate(ev.Command, ev.Option))
	case telnet.EventSubNegotiate:
		s.handleSubNegotiate(ev)
	case telnet.EventData:
		s.handleData(ev.Data)
	case telnet.EventCommand:
		// NOP and any other bare command: ignored (§4.4).
	}
}

func (s *Session) handleSubNegotiate(ev telnet.Event) {
	switch ev.Option {
	case telnet.OptNAWS:
		changed, ok := s.neg.ApplyNAWS(ev.Data)
		if ok && changed && s.ready {
			s.publishCapabilities()
		}
	case telnet.OptTTYPE:
		s.flush(s.neg.HandleMTTS(ev.Data))
	case telnet.OptGMCP:
		s.handleInboundGMCP(ev.Data)
	case telnet.OptMSSP:
		// An unsolicited query gets the same answer a backend push
		// would have produced, even if the table is still empty.
		s.flush([]telnet.Event{telnet.SubNegotiateEvent(telnet.OptMSSP, encodeMSSPStrings(s.msspTable))})
	default:
		// Any subnegotiation not explicitly handled here is dropped
		// silently (§4.4), including the MCCP3 frame itself: the codec
		// already engaged inflate as a side effect of decoding it.
	}
}

// handleData appends newly decoded application bytes to the line-
// assembly buffer. Before readiness the buffer only accumulates; once
// ready it is drained on every call, and becomeReady drains whatever
// accumulated during the handshake in one shot (§4.4).
func (s *Session) handleData(data []byte) {
	s.staging = append(s.staging, data...)
	if s.ready {
		s.drainLines()
	}
}

func (s *Session) drainLines() {
	for {
		idx := bytes.IndexByte(s.staging, '\n')
		if idx == -1 {
			break
		}
		line := bytes.TrimSuffix(s.staging[:idx], []byte{'\r'})
		s.staging = s.staging[idx+1:]
		if len(line) == 0 {
			continue
		}
		if !utf8.Valid(line) {
			continue // drop this line only; the session continues (§7).
		}
		text := string(line)
		if strings.HasPrefix(text, "//") {
			s.handleLocalCommand(text)
			continue
		}
		s.forwardData(msg.DataItem{Cmd: "text", Args: []any{text}})
	}
}

// handleLocalCommand is the "//"-prefixed local protocol command hook
// (§4.4): the remainder of the line is split into a command name and
// its arguments and dispatched into this session's localcmd.Engine. An
// unrecognized command, or one whose script errored, is reported back
// to the client rather than silently dropped.
func (s *Session) handleLocalCommand(line string) {
	rest := strings.TrimPrefix(line, "//")
	name, args := rest, ""
	if idx := strings.IndexByte(rest, ' '); idx != -1 {
		name, args = rest[:idx], rest[idx+1:]
	}
	if name == "" {
		return
	}

	handled, err := s.cmds.Dispatch(name, args)
	switch {
	case err != nil:
		s.Reply(fmt.Sprintf("local command %q failed: %v", name, err))
	case !handled:
		s.Reply(fmt.Sprintf("unknown local command %q", name))
	}
}

// Reply implements localcmd.Host: it writes text straight to the
// client, bypassing the hub entirely, for the local command surface
// only.
func (s *Session) Reply(text string) {
	if !strings.HasSuffix(text, "\r\n") {
		text += "\r\n"
	}
	s.flush([]telnet.Event{telnet.DataEvent([]byte(text))})
}

// handleInboundGMCP forwards a client's GMCP subnegotiation verbatim
// rather than trying to split it into an [args, kwargs] pair: the tail
// is an arbitrary "<dotted-name> <json>" payload chosen by the client,
// with no guarantee its JSON is a 2-element array, so the original
// implementation (protocol.rs) carries it through untouched as the sole
// element of args.
func (s *Session) handleInboundGMCP(payload []byte) {
	text := string(payload)
	cmd := text
	var tail string
	if idx := strings.IndexByte(text, ' '); idx != -1 {
		cmd, tail = text[:idx], text[idx+1:]
	}

	args := []any{}
	kwargs := map[string]any{}
	if tail != "" {
		args = []any{tail}
	}
	s.forwardData(msg.DataItem{Cmd: cmd, Args: args, Kwargs: kwargs})
}

// becomeReady fires the client-ready transition exactly once, from
// whichever of the handshake-complete check or the negotiation deadline
// fires first (§4.4).
func (s *Session) becomeReady() {
	if s.ready {
		return
	}
	s.ready = true
	s.publishConnected()
	s.drainLines()
}

func (s *Session) publishConnected() {
	s.send(msg.SessionEvent{
		Kind:     msg.SessionConnected,
		ID:       s.id,
		Addr:     s.addr,
		TLS:      s.caps.TLS,
		Caps:     s.caps,
		Outbound: s.outbound,
	})
}

func (s *Session) publishCapabilities() {
	s.send(msg.SessionEvent{Kind: msg.SessionCapabilities, ID: s.id, Caps: s.caps})
}

func (s *Session) forwardData(item msg.DataItem) {
	if !s.ready {
		return
	}
	s.send(msg.SessionEvent{Kind: msg.SessionData, ID: s.id, Data: []msg.DataItem{item}})
}

// send delivers ev to the hub, deferring to ctx cancellation rather than
// blocking forever if the hub has already gone away.
func (s *Session) send(ev msg.SessionEvent) {
	select {
	case s.inbound <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) handleOutbound(env msg.Envelope) {
	switch env.Kind {
	case msg.EnvelopeData:
		s.encodeOutbound(env.Item)
	case msg.EnvelopeClose:
		s.disconnect(env.Reason)
	case msg.EnvelopeLinkDown, msg.EnvelopeLinkUp:
		// Informational only; the session keeps buffering regardless
		// (§4.7). Nothing crosses the wire for either.
	}
}

// encodeOutbound implements the server->client envelope encoding of
// §4.4: canonical "text"/"prompt"/"mssp" commands get dedicated framing,
// anything else is forwarded as GMCP.
func (s *Session) encodeOutbound(item msg.DataItem) {
	switch item.Cmd {
	case "text":
		for _, a := range item.Args {
			line := fmt.Sprint(a)
			if !strings.HasSuffix(line, "\r\n") {
				line += "\r\n"
			}
			s.flush([]telnet.Event{telnet.DataEvent([]byte(line))})
		}
	case "prompt":
		for _, a := range item.Args {
			s.flush([]telnet.Event{telnet.DataEvent([]byte(fmt.Sprint(a)))})
		}
	case "mssp":
		for k, v := range item.Kwargs {
			s.msspTable[k] = fmt.Sprint(v)
		}
		s.flush([]telnet.Event{telnet.SubNegotiateEvent(telnet.OptMSSP, encodeMSSPStrings(s.msspTable))})
	default:
		body, _ := json.Marshal([2]any{item.Args, item.Kwargs})
		payload := item.Cmd + " " + string(body)
		s.flush([]telnet.Event{telnet.SubNegotiateEvent(telnet.OptGMCP, []byte(payload))})
	}
}

func encodeMSSPStrings(table map[string]string) []byte {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	records := make([]string, 0, len(keys))
	for _, k := range keys {
		records = append(records, k+" "+table[k])
	}
	return []byte(strings.Join(records, "\r\n"))
}

// flush encodes and writes events in order, engaging MCCP2 compression
// immediately after the frame that announces it has gone out (§4.1).
func (s *Session) flush(events []telnet.Event) {
	if len(events) == 0 {
		return
	}
	chunks := make([][]byte, len(events))
	for i, ev := range events {
		chunks[i] = s.codec.Encode(ev)
	}
	if err := s.codec.WriteTo(s.conn, chunks...); err != nil {
		s.disconnect("disconnected")
		return
	}
	for _, ev := range events {
		if ev.Kind == telnet.EventSubNegotiate && ev.Option == telnet.OptMCCP2 {
			s.codec.StartDeflate(s.conn)
		}
	}
}

func (s *Session) disconnect(reason string) {
	if !s.running {
		return
	}
	s.running = false
	s.send(msg.SessionEvent{Kind: msg.SessionDisconnected, ID: s.id, Reason: reason})
}
