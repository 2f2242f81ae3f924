// Package link implements the upstream link (C7): the single WebSocket
// connection carrying every session's traffic to the game backend,
// framed as UTF-8 JSON objects discriminated by a "kind" field (§4.7,
// §6.3).
package link

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drake/portal/msg"
)

const (
	pingInterval = 30 * time.Second
	pongTimeout  = 90 * time.Second
)

// wireMessage is the on-the-wire shape for every frame in both
// directions (§6.3): a mandatory kind, with the remaining fields
// populated or ignored depending on it.
type wireMessage struct {
	Kind string `json:"kind"`

	ID           uint64                `json:"id,omitempty"`
	Addr         string                `json:"addr,omitempty"`
	TLS          bool                  `json:"tls,omitempty"`
	Capabilities *wireCapabilities     `json:"capabilities,omitempty"`
	Data         []wireDataItem        `json:"data,omitempty"`
	Reason       string                `json:"reason,omitempty"`
	Clients      map[string]wireClient `json:"clients,omitempty"`
}

type wireDataItem struct {
	Cmd    string         `json:"cmd"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

type wireClient struct {
	Addr         string            `json:"addr"`
	TLS          bool              `json:"tls"`
	Capabilities *wireCapabilities `json:"capabilities"`
}

// wireCapabilities mirrors telnet.Capabilities' externally relevant
// fields; the colour level is serialized as its name rather than the
// ordinal so the backend doesn't need to know this module's iota order.
type wireCapabilities struct {
	Width      uint16 `json:"width"`
	Height     uint16 `json:"height"`
	Colour     string `json:"colour"`
	UTF8       bool   `json:"utf8"`
	ClientName string `json:"client_name"`
}

// ClientSnapshot is what the hub knows about one connected session, used
// both for a single client_connected frame and for the batch client_list
// replay (§4.7, SUPPLEMENTED FEATURES item 3).
type ClientSnapshot struct {
	ID     uint64
	Addr   string
	TLS    bool
	Caps   CapabilitiesView
	Reason string
}

// CapabilitiesView is the subset of telnet.Capabilities the wire
// protocol exposes. The hub builds this from telnet.Capabilities so the
// link package has no dependency on the telnet package.
type CapabilitiesView struct {
	Width      uint16
	Height     uint16
	Colour     string
	UTF8       bool
	ClientName string
}

// Inbound is a decoded backend->portal frame, handed to the hub.
type Inbound struct {
	Kind   InboundKind
	ID     uint64
	Reason string
	Data   []msg.DataItem
}

// InboundKind discriminates Inbound.
type InboundKind int

const (
	InboundClientData InboundKind = iota
	InboundRequestClients
	InboundDisconnectClient
)

// Link owns the single WebSocket connection to the backend. It runs its
// own actor loop: one goroutine reading frames, the owning goroutine
// multiplexing those against outbound sends requested by the hub.
type Link struct {
	url string

	toBackend chan wireMessage
	fromLink  chan Inbound
}

// New builds a Link for the given backend URL. Nothing dials until Run
// is called.
func New(url string) *Link {
	return &Link{
		url:       url,
		toBackend: make(chan wireMessage, 50),
		fromLink:  make(chan Inbound, 50),
	}
}

// Inbound returns the channel the hub should drain for backend-sourced
// messages.
func (l *Link) Inbound() <-chan Inbound { return l.fromLink }

// Run dials the backend and serves it until the connection is lost, then
// makes exactly one reconnect attempt before giving up for good (§1
// Non-goals: "no retry of the upstream link beyond a single
// reconnect-on-connect policy (it is the operator's job to restart)").
// It never loops indefinitely: at most two dial attempts happen per call,
// and Run returns once both are exhausted (or ctx is cancelled), leaving
// the process to be restarted externally. onReconnect is called after
// every successful dial, including the first, so the hub can replay its
// client list (§4.7, SUPPLEMENTED FEATURES item 3).
func (l *Link) Run(ctx context.Context, onLinkDown func(), onReconnect func()) {
	for attempt := 0; attempt < 2; attempt++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
		if err != nil {
			log.Printf("link: dial %s: %v", l.url, err)
			if onLinkDown != nil {
				onLinkDown()
			}
			return
		}

		if onReconnect != nil {
			onReconnect()
		}
		l.serve(ctx, conn)
		conn.Close()
		if onLinkDown != nil {
			onLinkDown()
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Send queues a backend-bound message. Reflects portal-level events
// into their wire shape (§6.3).
func (l *Link) Send(ctx context.Context, m wireMessage) {
	select {
	case l.toBackend <- m:
	case <-ctx.Done():
	}
}

// SendClientConnected, SendClientDisconnected, SendClientCapabilities,
// SendClientData and SendClientList build and queue the portal->backend
// frames named in §6.3.
func (l *Link) SendClientConnected(ctx context.Context, c ClientSnapshot) {
	l.Send(ctx, wireMessage{Kind: "client_connected", ID: c.ID, Addr: c.Addr, TLS: c.TLS, Capabilities: toWireCaps(c.Caps)})
}

func (l *Link) SendClientDisconnected(ctx context.Context, id uint64, reason string) {
	l.Send(ctx, wireMessage{Kind: "client_disconnected", ID: id, Reason: reason})
}

func (l *Link) SendClientCapabilities(ctx context.Context, id uint64, caps CapabilitiesView) {
	l.Send(ctx, wireMessage{Kind: "client_capabilities", ID: id, Capabilities: toWireCaps(caps)})
}

func (l *Link) SendClientData(ctx context.Context, id uint64, items []msg.DataItem) {
	l.Send(ctx, wireMessage{Kind: "client_data", ID: id, Data: toWireData(items)})
}

func (l *Link) SendClientList(ctx context.Context, clients []ClientSnapshot) {
	m := wireMessage{Kind: "client_list", Clients: make(map[string]wireClient, len(clients))}
	for _, c := range clients {
		m.Clients[fmt.Sprint(c.ID)] = wireClient{Addr: c.Addr, TLS: c.TLS, Capabilities: toWireCaps(c.Caps)}
	}
	l.Send(ctx, m)
}

func toWireCaps(c CapabilitiesView) *wireCapabilities {
	return &wireCapabilities{Width: c.Width, Height: c.Height, Colour: c.Colour, UTF8: c.UTF8, ClientName: c.ClientName}
}

func toWireData(items []msg.DataItem) []wireDataItem {
	out := make([]wireDataItem, len(items))
	for i, it := range items {
		out[i] = wireDataItem{Cmd: it.Cmd, Args: it.Args, Kwargs: it.Kwargs}
	}
	return out
}

// serve runs one connection's read/write multiplexer (§4.7's two
// suspension points: next WebSocket frame, next outbound message) until
// the socket errs or ctx is cancelled.
func (l *Link) serve(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	reads := make(chan wireMessage, 1)
	readErrs := make(chan error, 1)
	go l.readLoop(conn, reads, readErrs)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-readErrs:
			return

		case m := <-reads:
			l.dispatchInbound(ctx, m)

		case m := <-l.toBackend:
			if err := conn.WriteJSON(m); err != nil {
				log.Printf("link: write: %v", err)
				return
			}

		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop decodes frames off the wire. Binary frames are ignored
// (§6.1... rather §4.7: "Binary WebSocket frames are ignored"); a JSON
// parse failure drops that single frame and the link continues (§7).
func (l *Link) readLoop(conn *websocket.Conn, out chan<- wireMessage, errs chan<- error) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		var m wireMessage
		if err := json.Unmarshal(data, &m); err != nil {
			log.Printf("link: malformed frame: %v", err)
			continue
		}
		out <- m
	}
}

func (l *Link) dispatchInbound(ctx context.Context, m wireMessage) {
	var in Inbound
	switch m.Kind {
	case "client_data":
		in = Inbound{Kind: InboundClientData, ID: m.ID, Data: fromWireData(m.Data)}
	case "server_request_clients":
		in = Inbound{Kind: InboundRequestClients}
	case "server_disconnect_client":
		in = Inbound{Kind: InboundDisconnectClient, ID: m.ID, Reason: m.Reason}
	default:
		log.Printf("link: unknown frame kind %q", m.Kind)
		return
	}
	select {
	case l.fromLink <- in:
	case <-ctx.Done():
	}
}

func fromWireData(items []wireDataItem) []msg.DataItem {
	out := make([]msg.DataItem, len(items))
	for i, it := range items {
		out[i] = msg.DataItem{Cmd: it.Cmd, Args: it.Args, Kwargs: it.Kwargs}
	}
	return out
}
