// Package msg holds the internal message types that flow between a
// session actor (telnet/session) and the portal hub (hub), independent of
// both the Telnet wire format and the upstream WebSocket JSON format. The
// hub translates between this package's types and the upstream wire
// protocol (link); sessions never see the wire format directly.
package msg

import "github.com/drake/portal/telnet"

// DataItem is the canonical {cmd, args, kwargs} data envelope described in
// §6.3: the shape shared by session text/prompt/GMCP traffic and the
// upstream "client_data" payload.
type DataItem struct {
	Cmd    string
	Args   []any
	Kwargs map[string]any
}

// SessionEventKind discriminates SessionEvent.
type SessionEventKind int

const (
	// SessionConnected is published exactly once, on the ready->active
	// transition (§3 Lifecycles).
	SessionConnected SessionEventKind = iota
	SessionDisconnected
	SessionCapabilities
	SessionData
)

// SessionEvent is what a session publishes to the hub's inbound channel.
// Outbound is populated only on SessionConnected — it is the one and only
// time the hub learns this session's send channel (never shared again,
// never cloned into the session itself).
type SessionEvent struct {
	Kind     SessionEventKind
	ID       uint64
	Addr     string
	TLS      bool
	Caps     telnet.Capabilities
	Data     []DataItem
	Reason   string
	Outbound chan<- Envelope
}

// EnvelopeKind discriminates Envelope.
type EnvelopeKind int

const (
	EnvelopeData EnvelopeKind = iota
	EnvelopeLinkDown
	EnvelopeLinkUp
	EnvelopeClose
)

// Envelope is what the hub sends down a session's outbound channel.
type Envelope struct {
	Kind   EnvelopeKind
	Item   DataItem
	Reason string
}
