package telnet

// ColourLevel is a monotonic terminal colour capability ladder, derived
// from MTTS bit 0/3/8 and never downgraded once raised.
type ColourLevel int

const (
	ColourNone ColourLevel = iota
	ColourANSI
	ColourXterm256
	ColourTrueColor
)

// Capabilities is the mutable per-session record populated by option
// negotiation and MTTS fingerprinting (§3).
type Capabilities struct {
	ProtocolVariant string // "telnet" today; carried for future wire variants
	TLS             bool
	UTF8            bool
	Colour          ColourLevel
	Width           uint16
	Height          uint16
	ClientName      string
	ClientVersion   string

	SGA         bool
	NAWS        bool
	Linemode    bool
	MCCP2       bool
	MCCP3       bool
	GMCP        bool
	MSDP        bool
	MSSP        bool
	EOR         bool

	// MTTS-derived feature flags (§4.3).
	VT100          bool
	MouseTracking  bool
	OSCColorPalette bool
	ScreenReader   bool
	Proxy          bool
	MNES           bool
}

// DefaultCapabilities returns a Capabilities record populated with §3's
// stated defaults.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		ProtocolVariant: "telnet",
		Width:           78,
		Height:          24,
		Colour:          ColourNone,
		UTF8:            false,
	}
}

// raiseColour never downgrades an already-higher colour level.
func raiseColour(c *Capabilities, level ColourLevel) {
	if level > c.Colour {
		c.Colour = level
	}
}
