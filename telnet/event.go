package telnet

// EventKind discriminates the TelnetEvent sum type.
type EventKind int

const (
	// EventData carries application bytes with IAC-escapes resolved.
	EventData EventKind = iota
	// EventCommand carries a bare IAC <cmd> not involved in negotiation.
	EventCommand
	// EventNegotiate carries a WILL/WONT/DO/DONT verb and its option.
	EventNegotiate
	// EventSubNegotiate carries an option and its unescaped payload.
	EventSubNegotiate
)

// Event is the frame type produced by Codec.Decode and consumed by
// Codec.Encode.
type Event struct {
	Kind    EventKind
	Command byte   // Command byte (EventCommand), or verb (EventNegotiate)
	Option  byte   // Option byte (EventNegotiate, EventSubNegotiate)
	Data    []byte // payload (EventData, EventSubNegotiate)
}

// DataEvent builds an EventData frame.
func DataEvent(data []byte) Event {
	return Event{Kind: EventData, Data: data}
}

// CommandEvent builds an EventCommand frame.
func CommandEvent(cmd byte) Event {
	return Event{Kind: EventCommand, Command: cmd}
}

// NegotiateEvent builds an EventNegotiate frame.
func NegotiateEvent(cmd, opt byte) Event {
	return Event{Kind: EventNegotiate, Command: cmd, Option: opt}
}

// SubNegotiateEvent builds an EventSubNegotiate frame.
func SubNegotiateEvent(opt byte, data []byte) Event {
	return Event{Kind: EventSubNegotiate, Option: opt, Data: data}
}
