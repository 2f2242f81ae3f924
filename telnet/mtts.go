package telnet

import (
	"strconv"
	"strings"
)

// mttsState holds the one piece of cross-stage memory the fingerprint
// cycle needs: stage 0's raw reply, compared against stage 1's to detect
// clients that don't support the extended MTTS cycle.
type mttsState struct {
	stage0 string
}

// knownXterm256Clients lists client identifiers that are known to support
// 256-colour output even when their stage-2 bitfield reply is absent or
// conservative.
var knownXterm256Clients = map[string]bool{
	"MUDLET":     true,
	"TINTIN++":   true,
	"ZMUD":       true,
	"CMUD":       true,
	"ATLANTIS":   true,
	"KILDCLIENT": true,
	"MUSHCLIENT": true,
	"BEIP":       true,
	"POTATO":     true,
}

func applyClientNameColour(caps *Capabilities, name string) {
	upper := strings.ToUpper(name)
	if knownXterm256Clients[upper] || strings.HasPrefix(upper, "XTERM") || strings.HasSuffix(upper, "-256COLOR") {
		raiseColour(caps, ColourXterm256)
	}
}

func applyMTTSBitfield(caps *Capabilities, bits int) {
	if bits&1 != 0 {
		raiseColour(caps, ColourANSI)
	}
	if bits&2 != 0 {
		caps.VT100 = true
	}
	if bits&4 != 0 {
		caps.UTF8 = true
	}
	if bits&8 != 0 {
		raiseColour(caps, ColourXterm256)
	}
	if bits&16 != 0 {
		caps.MouseTracking = true
	}
	if bits&32 != 0 {
		caps.OSCColorPalette = true
	}
	if bits&64 != 0 {
		caps.ScreenReader = true
	}
	if bits&128 != 0 {
		caps.Proxy = true
	}
	if bits&256 != 0 {
		raiseColour(caps, ColourTrueColor)
	}
	if bits&512 != 0 {
		caps.MNES = true
	}
}

// HandleMTTS processes a completed SubNegotiate(TTYPE, payload) frame per
// the three-cycle fingerprint of §4.3. It returns the next stage's
// request event, if any.
func (n *Negotiator) HandleMTTS(payload []byte) []Event {
	if len(payload) < 2 || payload[0] != mttsIS {
		return nil // malformed: abort silently, leave the set untouched
	}
	reply := string(payload[1:])

	switch {
	case has(n.left.TType, 0):
		return n.mttsStage0(reply)
	case has(n.left.TType, 1):
		return n.mttsStage1(reply)
	case has(n.left.TType, 2):
		return n.mttsStage2(reply)
	}
	return nil
}

func has(m map[int]struct{}, k int) bool {
	_, ok := m[k]
	return ok
}

func (n *Negotiator) mttsStage0(reply string) []Event {
	name, version := splitClientID(reply)
	n.caps.ClientName = name
	n.caps.ClientVersion = version
	applyClientNameColour(n.caps, name)

	n.mtts.stage0 = reply
	delete(n.left.TType, 0)
	n.left.TType[1] = struct{}{}
	return []Event{SubNegotiateEvent(OptTTYPE, []byte{mttsSend})}
}

func (n *Negotiator) mttsStage1(reply string) []Event {
	delete(n.left.TType, 1)
	if strings.EqualFold(reply, n.mtts.stage0) {
		// No extended MTTS support; the cycle ends here.
		delete(n.left.TType, 2)
		return nil
	}
	name, _ := splitClientID(reply)
	applyClientNameColour(n.caps, name)
	n.left.TType[2] = struct{}{}
	return []Event{SubNegotiateEvent(OptTTYPE, []byte{mttsSend})}
}

func (n *Negotiator) mttsStage2(reply string) []Event {
	const prefix = "MTTS "
	if !strings.HasPrefix(reply, prefix) {
		return nil // malformed: abort silently, leave the set untouched
	}
	bits, err := strconv.Atoi(strings.TrimSpace(reply[len(prefix):]))
	if err != nil || bits < 0 {
		return nil
	}
	applyMTTSBitfield(n.caps, bits)
	delete(n.left.TType, 2)
	return nil
}

// splitClientID applies the two-piece split the open question in §9
// calls for (the source's splitn(1, " ") was almost certainly meant to be
// splitn(2, " ")): the client name is the first token, the rest (if any)
// is the version string.
func splitClientID(s string) (name, version string) {
	parts := strings.SplitN(strings.TrimSpace(s), " ", 2)
	name = strings.ToUpper(parts[0])
	if len(parts) == 2 {
		version = parts[1]
	}
	return name, version
}
