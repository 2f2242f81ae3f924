package telnet

// OptionState is the per-option four-perspective negotiation record (§3).
// Initially every field is false; enabled transitions only occur on an
// accepting peer reply.
type OptionState struct {
	LocalEnabled      bool
	LocalNegotiating  bool
	RemoteEnabled     bool
	RemoteNegotiating bool
}

// OptionPolicy is the static table entry keyed by option byte (§3).
type OptionPolicy struct {
	AllowLocal  bool
	AllowRemote bool
	StartLocal  bool
	StartRemote bool
}

// DefaultPolicy returns the option policy table for the options this
// portal negotiates (§3, §6.1): SGA and MSSP/MCCP2/MCCP3/GMCP/MSDP/EOR are
// local (server-offered); NAWS, MTTS and LINEMODE are remote (requested
// of the peer).
func DefaultPolicy() [256]OptionPolicy {
	var p [256]OptionPolicy
	p[OptSGA] = OptionPolicy{AllowLocal: true, StartLocal: true}
	p[OptNAWS] = OptionPolicy{AllowRemote: true, StartRemote: true}
	p[OptTTYPE] = OptionPolicy{AllowRemote: true, StartRemote: true}
	p[OptMSSP] = OptionPolicy{AllowLocal: true, StartLocal: true}
	p[OptMCCP2] = OptionPolicy{AllowLocal: true, StartLocal: true}
	p[OptMCCP3] = OptionPolicy{AllowLocal: true, StartLocal: true}
	p[OptGMCP] = OptionPolicy{AllowLocal: true, StartLocal: true}
	p[OptMSDP] = OptionPolicy{AllowLocal: true, StartLocal: true}
	p[OptLinemode] = OptionPolicy{AllowRemote: true, StartRemote: true}
	p[OptEORopt] = OptionPolicy{AllowLocal: true, StartLocal: true}
	return p
}

// HandshakesLeft is the three-set bookkeeping of §3: local and remote
// option bytes still awaiting a settling reply, and the MTTS stages
// (0, 1, 2) still outstanding.
type HandshakesLeft struct {
	Local  map[byte]struct{}
	Remote map[byte]struct{}
	TType  map[int]struct{}
}

func newHandshakesLeft() HandshakesLeft {
	return HandshakesLeft{
		Local:  make(map[byte]struct{}),
		Remote: make(map[byte]struct{}),
		TType:  make(map[int]struct{}),
	}
}

// Empty reports the readiness predicate of §3: local ∪ remote ∪ ttype = ∅.
func (h HandshakesLeft) Empty() bool {
	return len(h.Local) == 0 && len(h.Remote) == 0 && len(h.TType) == 0
}

// Negotiator drives the option-negotiation state machine (C2) and the
// MTTS sub-protocol (C3) it triggers, updating a shared Capabilities
// record as side effects fire. It is owned by exactly one session actor.
type Negotiator struct {
	policy [256]OptionPolicy
	state  [256]OptionState
	left   HandshakesLeft
	caps   *Capabilities
	mtts   mttsState
}

// NewNegotiator builds a Negotiator over the given policy table, updating
// caps as a side effect of negotiation.
func NewNegotiator(policy [256]OptionPolicy, caps *Capabilities) *Negotiator {
	return &Negotiator{
		policy: policy,
		left:   newHandshakesLeft(),
		caps:   caps,
	}
}

// Ready reports whether all three handshake sets are empty (§3, §4.2).
func (n *Negotiator) Ready() bool {
	return n.left.Empty()
}

// Start emits the session-initiated WILL/DO requests per the policy
// table's start flags, populating handshakes_left accordingly (§4.2,
// §4.4 Startup).
func (n *Negotiator) Start() []Event {
	var out []Event
	for opt := 0; opt < 256; opt++ {
		p := n.policy[opt]
		o := byte(opt)
		if p.StartLocal {
			st := n.state[o]
			st.LocalNegotiating = true
			n.state[o] = st
			n.left.Local[o] = struct{}{}
			out = append(out, NegotiateEvent(WILL, o))
		}
		if p.StartRemote {
			st := n.state[o]
			st.RemoteNegotiating = true
			n.state[o] = st
			n.left.Remote[o] = struct{}{}
			out = append(out, NegotiateEvent(DO, o))
		}
	}
	return out
}

// HandleNegotiate processes one EventNegotiate frame per the automaton of
// §4.2, returning any reply events (0 or more — option enable side
// effects such as MTTS stage 0's SEND request are included here).
func (n *Negotiator) HandleNegotiate(cmd, opt byte) []Event {
	switch cmd {
	case WILL:
		return n.handleWill(opt)
	case WONT:
		return n.handleWont(opt)
	case DO:
		return n.handleDo(opt)
	case DONT:
		return n.handleDont(opt)
	}
	return nil
}

func (n *Negotiator) handleWill(opt byte) []Event {
	p := n.policy[opt]
	st := n.state[opt]

	if !p.AllowRemote {
		return []Event{NegotiateEvent(DONT, opt)}
	}
	if st.RemoteEnabled {
		return nil // idempotent no-op
	}
	if st.RemoteNegotiating {
		st.RemoteNegotiating = false
		st.RemoteEnabled = true
		n.state[opt] = st
		delete(n.left.Remote, opt)
		return n.enableRemote(opt)
	}
	// Peer-initiated offer we didn't request.
	st.RemoteEnabled = true
	n.state[opt] = st
	out := []Event{NegotiateEvent(DO, opt)}
	out = append(out, n.enableRemote(opt)...)
	return out
}

func (n *Negotiator) handleWont(opt byte) []Event {
	st := n.state[opt]
	delete(n.left.Remote, opt)
	if st.RemoteNegotiating {
		st.RemoteNegotiating = false
		n.state[opt] = st
		return nil
	}
	if st.RemoteEnabled {
		st.RemoteEnabled = false
		n.state[opt] = st
		return n.disableRemote(opt)
	}
	return nil
}

func (n *Negotiator) handleDo(opt byte) []Event {
	p := n.policy[opt]
	st := n.state[opt]

	if !p.AllowLocal {
		return []Event{NegotiateEvent(WONT, opt)}
	}
	if st.LocalEnabled {
		return nil
	}
	if st.LocalNegotiating {
		st.LocalNegotiating = false
		st.LocalEnabled = true
		n.state[opt] = st
		delete(n.left.Local, opt)
		return n.enableLocal(opt)
	}
	st.LocalEnabled = true
	n.state[opt] = st
	out := []Event{NegotiateEvent(WILL, opt)}
	out = append(out, n.enableLocal(opt)...)
	return out
}

func (n *Negotiator) handleDont(opt byte) []Event {
	st := n.state[opt]
	delete(n.left.Local, opt)
	if st.LocalNegotiating {
		st.LocalNegotiating = false
		n.state[opt] = st
		return nil
	}
	if st.LocalEnabled {
		st.LocalEnabled = false
		n.state[opt] = st
		return n.disableLocal(opt)
	}
	return nil
}

// enableRemote applies §4.2's per-option enable-remote side effects.
func (n *Negotiator) enableRemote(opt byte) []Event {
	switch opt {
	case OptNAWS:
		n.caps.NAWS = true
	case OptTTYPE:
		n.left.TType[0] = struct{}{}
		return []Event{SubNegotiateEvent(OptTTYPE, []byte{mttsSend})}
	case OptLinemode:
		n.caps.Linemode = true
	}
	return nil
}

func (n *Negotiator) disableRemote(opt byte) []Event {
	switch opt {
	case OptNAWS:
		n.caps.NAWS = false
		n.caps.Width = 78
		n.caps.Height = 24
	case OptTTYPE:
		for k := range n.left.TType {
			delete(n.left.TType, k)
		}
	case OptLinemode:
		n.caps.Linemode = false
	}
	return nil
}

func (n *Negotiator) enableLocal(opt byte) []Event {
	switch opt {
	case OptSGA:
		n.caps.SGA = true
	case OptMCCP2:
		n.caps.MCCP2 = true
		return []Event{SubNegotiateEvent(OptMCCP2, nil)}
	case OptMCCP3:
		n.caps.MCCP3 = true
	case OptGMCP:
		n.caps.GMCP = true
	case OptMSDP:
		n.caps.MSDP = true
	case OptMSSP:
		n.caps.MSSP = true
	case OptEORopt:
		n.caps.EOR = true
	}
	return nil
}

func (n *Negotiator) disableLocal(opt byte) []Event {
	switch opt {
	case OptSGA:
		n.caps.SGA = false
	case OptMCCP2:
		n.caps.MCCP2 = false
	case OptMCCP3:
		n.caps.MCCP3 = false
	case OptGMCP:
		n.caps.GMCP = false
	case OptMSDP:
		n.caps.MSDP = false
	case OptMSSP:
		n.caps.MSSP = false
	case OptEORopt:
		n.caps.EOR = false
	}
	return nil
}

// ApplyNAWS parses a NAWS subnegotiation payload (big-endian width then
// height u16 pairs) and updates Capabilities. It reports whether the
// payload was well-formed and whether the resulting size actually
// changed (§4.4's "capabilities changed" trigger).
func (n *Negotiator) ApplyNAWS(payload []byte) (changed bool, ok bool) {
	if len(payload) < 4 {
		return false, false
	}
	w := uint16(payload[0])<<8 | uint16(payload[1])
	h := uint16(payload[2])<<8 | uint16(payload[3])
	if w == n.caps.Width && h == n.caps.Height {
		return false, true
	}
	n.caps.Width = w
	n.caps.Height = h
	return true, true
}
