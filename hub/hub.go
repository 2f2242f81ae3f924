// Package hub implements the portal hub (C8): the single process-wide
// router between every session's events and the upstream link's JSON
// protocol (§4.8). It owns the session-id -> ClientHandle map and is
// the only place that state is read or mutated.
package hub

import (
	"context"
	"log"

	"github.com/drake/portal/link"
	"github.com/drake/portal/msg"
	"github.com/drake/portal/telnet"
)

const inboundCapacity = 50

// clientHandle is this package's ClientHandle (§3): the hub's view of
// one registered session.
type clientHandle struct {
	id       uint64
	addr     string
	tls      bool
	caps     link.CapabilitiesView
	outbound chan<- msg.Envelope
}

// Hub routes between session-facing msg.SessionEvent/msg.Envelope
// traffic and the backend-facing link.Link. Every routing decision is
// made on a single goroutine (Run); nothing else touches its state
// (§4.8: "the hub is single-threaded and serializes all routing").
type Hub struct {
	inbound    chan msg.SessionEvent
	linkIn     <-chan link.Inbound
	linkStatus chan bool
	statsReq   chan chan Stats
	statusReq  chan chan Status
	lnk        *link.Link

	clients map[uint64]*clientHandle
	linkUp  bool
}

// New builds a Hub routing to lnk. Nothing runs until Run is called.
func New(lnk *link.Link) *Hub {
	return &Hub{
		inbound:    make(chan msg.SessionEvent, inboundCapacity),
		linkIn:     lnk.Inbound(),
		linkStatus: make(chan bool),
		statsReq:   make(chan chan Stats),
		statusReq:  make(chan chan Status),
		lnk:        lnk,
		clients:    make(map[uint64]*clientHandle),
	}
}

// Stats is a point-in-time snapshot of hub state, handed out over
// statsReq so an external reader never touches h.clients/h.linkUp
// directly (§4.8's single-goroutine rule covers reads, not just writes).
type Stats struct {
	Sessions int
	LinkUp   bool
}

// Stats asks the hub's own goroutine for a snapshot and waits for the
// reply, the same request/response shape InboundRequestClients already
// uses for the backend's client-list query. It returns false if ctx is
// cancelled before the hub answers.
func (h *Hub) Stats(ctx context.Context) (Stats, bool) {
	reply := make(chan Stats, 1)
	select {
	case h.statsReq <- reply:
	case <-ctx.Done():
		return Stats{}, false
	}
	select {
	case s := <-reply:
		return s, true
	case <-ctx.Done():
		return Stats{}, false
	}
}

// SessionInfo is one Status entry: the operator-facing summary of a
// single registered session that cmd/portal-admin renders as a table
// row.
type SessionInfo struct {
	ID     uint64
	Addr   string
	TLS    bool
	Width  uint16
	Height uint16
	Colour string
}

// Status is a fuller snapshot than Stats: link state plus one
// SessionInfo per registered session, answered over statusReq on the
// same request/response pattern.
type Status struct {
	LinkUp   bool
	Sessions []SessionInfo
}

// Status asks the hub's own goroutine for a full status snapshot,
// for cmd/portal-admin's dashboard. It returns false if ctx is
// cancelled before the hub answers.
func (h *Hub) Status(ctx context.Context) (Status, bool) {
	reply := make(chan Status, 1)
	select {
	case h.statusReq <- reply:
	case <-ctx.Done():
		return Status{}, false
	}
	select {
	case s := <-reply:
		return s, true
	case <-ctx.Done():
		return Status{}, false
	}
}

// Inbound is the channel every session publishes its SessionEvents to.
func (h *Hub) Inbound() chan<- msg.SessionEvent { return h.inbound }

// LinkCallbacks returns the onLinkDown/onReconnect closures link.Run
// expects. Rather than let the link's own goroutine mutate hub state
// directly, both closures hand a bool to the hub's own event loop over
// linkStatus, keeping every state change on the one serializing
// goroutine.
func (h *Hub) LinkCallbacks(ctx context.Context) (onLinkDown, onReconnect func()) {
	onLinkDown = func() {
		select {
		case h.linkStatus <- false:
		case <-ctx.Done():
		}
	}
	onReconnect = func() {
		select {
		case h.linkStatus <- true:
		case <-ctx.Done():
		}
	}
	return onLinkDown, onReconnect
}

// Run is the hub's actor loop. It returns once ctx is cancelled, after
// broadcasting a close envelope to every registered session (§4.8's
// "on clean shutdown, send a close request to every session and to the
// link" — the link's own shutdown is driven by the same ctx cancelling
// its Run loop).
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case ev := <-h.inbound:
			h.handleSessionEvent(ctx, ev)

		case in := <-h.linkIn:
			h.handleLinkInbound(ctx, in)

		case up := <-h.linkStatus:
			h.handleLinkStatus(ctx, up)

		case reply := <-h.statsReq:
			reply <- Stats{Sessions: len(h.clients), LinkUp: h.linkUp}

		case reply := <-h.statusReq:
			reply <- h.statusSnapshot()
		}
	}
}

func (h *Hub) statusSnapshot() Status {
	sessions := make([]SessionInfo, 0, len(h.clients))
	for _, c := range h.clients {
		sessions = append(sessions, SessionInfo{
			ID:     c.id,
			Addr:   c.addr,
			TLS:    c.tls,
			Width:  c.caps.Width,
			Height: c.caps.Height,
			Colour: c.caps.Colour,
		})
	}
	return Status{LinkUp: h.linkUp, Sessions: sessions}
}

func (h *Hub) handleSessionEvent(ctx context.Context, ev msg.SessionEvent) {
	switch ev.Kind {
	case msg.SessionConnected:
		c := &clientHandle{
			id:       ev.ID,
			addr:     ev.Addr,
			tls:      ev.TLS,
			caps:     viewFromCaps(ev.Caps),
			outbound: ev.Outbound,
		}
		h.clients[ev.ID] = c
		if h.linkUp {
			h.lnk.SendClientConnected(ctx, h.snapshot(c))
		}

	case msg.SessionDisconnected:
		delete(h.clients, ev.ID)
		if h.linkUp {
			h.lnk.SendClientDisconnected(ctx, ev.ID, ev.Reason)
		}

	case msg.SessionCapabilities:
		c, ok := h.clients[ev.ID]
		if !ok {
			return
		}
		c.caps = viewFromCaps(ev.Caps)
		if h.linkUp {
			h.lnk.SendClientCapabilities(ctx, ev.ID, c.caps)
		}

	case msg.SessionData:
		if h.linkUp {
			h.lnk.SendClientData(ctx, ev.ID, ev.Data)
		}
	}
}

func (h *Hub) handleLinkInbound(ctx context.Context, in link.Inbound) {
	switch in.Kind {
	case link.InboundClientData:
		c, ok := h.clients[in.ID]
		if !ok {
			return // target session gone; drop (§4.8).
		}
		for _, item := range in.Data {
			h.deliver(ctx, c, msg.Envelope{Kind: msg.EnvelopeData, Item: item})
		}

	case link.InboundRequestClients:
		h.replayClientList(ctx)

	case link.InboundDisconnectClient:
		c, ok := h.clients[in.ID]
		if !ok {
			return
		}
		h.deliver(ctx, c, msg.Envelope{Kind: msg.EnvelopeClose, Reason: in.Reason})
	}
}

// handleLinkStatus fans a link up/down transition out to every
// registered session and, on a fresh (re)connect, replays the current
// client list to the backend (§4.7, SUPPLEMENTED FEATURES item 3).
func (h *Hub) handleLinkStatus(ctx context.Context, up bool) {
	h.linkUp = up
	kind := msg.EnvelopeLinkDown
	if up {
		kind = msg.EnvelopeLinkUp
	}
	for _, c := range h.clients {
		h.deliver(ctx, c, msg.Envelope{Kind: kind})
	}
	if up {
		h.replayClientList(ctx)
	}
}

func (h *Hub) replayClientList(ctx context.Context) {
	snapshots := make([]link.ClientSnapshot, 0, len(h.clients))
	for _, c := range h.clients {
		snapshots = append(snapshots, h.snapshot(c))
	}
	h.lnk.SendClientList(ctx, snapshots)
}

func (h *Hub) snapshot(c *clientHandle) link.ClientSnapshot {
	return link.ClientSnapshot{ID: c.id, Addr: c.addr, TLS: c.tls, Caps: c.caps}
}

// deliver sends env down a session's outbound queue. It only gives up
// early on ctx cancellation — in steady state a full outbound queue
// blocks the hub, exactly as §5 requires for hub->session delivery.
func (h *Hub) deliver(ctx context.Context, c *clientHandle, env msg.Envelope) {
	select {
	case c.outbound <- env:
	case <-ctx.Done():
	}
}

// shutdown is the one place a full outbound queue is tolerated to drop
// a message (§5: "drop is only tolerated in the closing transition").
func (h *Hub) shutdown() {
	for id, c := range h.clients {
		select {
		case c.outbound <- msg.Envelope{Kind: msg.EnvelopeClose, Reason: "portal shutting down"}:
		default:
			log.Printf("hub: dropping close envelope for session %d (outbound full)", id)
		}
	}
}

func viewFromCaps(caps telnet.Capabilities) link.CapabilitiesView {
	return link.CapabilitiesView{
		Width:      caps.Width,
		Height:     caps.Height,
		Colour:     colourName(caps.Colour),
		UTF8:       caps.UTF8,
		ClientName: caps.ClientName,
	}
}

func colourName(c telnet.ColourLevel) string {
	switch c {
	case telnet.ColourANSI:
		return "ansi"
	case telnet.ColourXterm256:
		return "xterm256"
	case telnet.ColourTrueColor:
		return "truecolor"
	default:
		return "none"
	}
}
