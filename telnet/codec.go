package telnet

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
)

// DefaultMaxBuffer is the default cap on undecoded buffered bytes before
// Decode reports ErrBufferOverflow.
const DefaultMaxBuffer = 8 * 1024

// ErrBufferOverflow is returned by Decode when the buffered, not yet
// decoded bytes exceed its configured maximum.
var ErrBufferOverflow = fmt.Errorf("telnet: buffer overflow")

// Codec is a resumable Telnet byte-stream codec (C1). It converts an
// arbitrary incoming byte stream into a sequence of Events, handling IAC
// escaping and partial frames across calls, and symmetrically encodes
// Events back to wire bytes. Either direction can transparently switch to
// zlib compression mid-stream (MCCP2 outbound, MCCP3 inbound).
//
// A Codec is owned by a single session actor and is not safe for
// concurrent use.
type Codec struct {
	maxBuffer int
	buf       []byte

	inflate *inflater   // non-nil once MCCP3 has engaged
	deflate *zlib.Writer // non-nil once MCCP2 has engaged
}

// NewCodec creates a Codec with the given buffer cap. A maxBuffer of 0
// uses DefaultMaxBuffer.
func NewCodec(maxBuffer int) *Codec {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	return &Codec{maxBuffer: maxBuffer}
}

// Close releases any background resources (the inflate goroutine, if
// MCCP3 was engaged).
func (c *Codec) Close() {
	if c.inflate != nil {
		c.inflate.close()
	}
}

// Decode appends newly read bytes to the internal buffer — passing them
// through the inflater first if MCCP3 is engaged — and extracts as many
// complete events as the buffer currently contains. Adjacent Data events
// are merged into one, so an escaped IAC joins the Data run around it. It
// returns ErrBufferOverflow (session-fatal, per the error handling design)
// if the buffer holds more than maxBuffer bytes once the new bytes are
// appended; that check runs before any frame is extracted.
func (c *Codec) Decode(data []byte) ([]Event, error) {
	if c.inflate != nil {
		chunk, err := c.inflate.feed(data)
		if err != nil {
			return nil, fmt.Errorf("telnet: inflate: %w", err)
		}
		c.buf = append(c.buf, chunk...)
	} else {
		c.buf = append(c.buf, data...)
	}

	if len(c.buf) > c.maxBuffer {
		return nil, ErrBufferOverflow
	}

	var out []Event
	for {
		ev, consumed, ok := decodeOne(c.buf)
		if !ok {
			break
		}
		c.buf = c.buf[consumed:]
		if ev != nil {
			if ev.Kind == EventData && len(out) > 0 && out[len(out)-1].Kind == EventData {
				out[len(out)-1].Data = append(out[len(out)-1].Data, ev.Data...)
				continue
			}
			out = append(out, *ev)
			// MCCP3 switch must be atomic with the frame that caused it:
			// the inflater is engaged and the bytes still buffered behind
			// the frame are run through it before anything further is
			// decoded, so every later event comes from inflated bytes.
			if ev.Kind == EventSubNegotiate && ev.Option == OptMCCP3 {
				c.StartInflate()
				if len(c.buf) > 0 {
					chunk, err := c.inflate.feed(c.buf)
					if err != nil {
						return out, fmt.Errorf("telnet: inflate: %w", err)
					}
					c.buf = chunk
				}
			}
		}
	}
	return out, nil
}

// decodeOne attempts to extract a single frame from buf, per §4.1's
// decoding algorithm. It returns the event (an escaped IAC comes back as a
// one-byte Data event, which the loop in Decode merges into the
// surrounding Data run), how many bytes of buf it consumed, and whether
// it made progress at all.
//
// This function processes the buffer in the same two-pass style as the
// teacher's extract()+processCommand() pipeline: a single pass here
// combines both, since the Event taxonomy maps directly onto the
// boundaries extract() already finds.
func decodeOne(buf []byte) (*Event, int, bool) {
	if len(buf) == 0 {
		return nil, 0, false
	}
	if buf[0] != IAC {
		end := bytes.IndexByte(buf, IAC)
		if end == -1 {
			end = len(buf)
		}
		return &Event{Kind: EventData, Data: append([]byte(nil), buf[:end]...)}, end, true
	}
	// buf[0] == IAC
	if len(buf) == 1 {
		return nil, 0, false // need more
	}
	switch buf[1] {
	case IAC:
		// Escaped IAC: one literal 0xFF byte of data.
		return &Event{Kind: EventData, Data: []byte{IAC}}, 2, true
	case WILL, WONT, DO, DONT:
		if len(buf) < 3 {
			return nil, 0, false
		}
		return &Event{Kind: EventNegotiate, Command: buf[1], Option: buf[2]}, 3, true
	case SB:
		if len(buf) < 3 {
			return nil, 0, false
		}
		opt := buf[2]
		payload, consumed, ok := findSBEnd(buf[3:])
		if !ok {
			return nil, 0, false
		}
		return &Event{Kind: EventSubNegotiate, Option: opt, Data: payload}, 3 + consumed, true
	default:
		return &Event{Kind: EventCommand, Command: buf[1]}, 2, true
	}
}

// findSBEnd scans tail for the next unescaped IAC SE, resolving IAC IAC
// escapes as it goes. It returns the unescaped payload, the number of
// raw bytes of tail consumed (including the terminating IAC SE), and
// whether a complete terminator was found.
func findSBEnd(tail []byte) ([]byte, int, bool) {
	var payload []byte
	for i := 0; i < len(tail); i++ {
		if tail[i] != IAC {
			payload = append(payload, tail[i])
			continue
		}
		if i+1 >= len(tail) {
			return nil, 0, false // need more
		}
		switch tail[i+1] {
		case SE:
			return payload, i + 2, true
		case IAC:
			payload = append(payload, IAC)
			i++
		default:
			// Malformed: a lone IAC inside SB not followed by IAC or SE.
			// Treat it like the teacher does: stay in the subnegotiation,
			// consuming the stray byte as literal.
			payload = append(payload, tail[i])
		}
	}
	return nil, 0, false
}

// Encode serializes ev to wire bytes, per the dual of the decoding
// algorithm. It does not apply compression; callers write the result
// through WriteTo so MCCP2 can apply.
func (c *Codec) Encode(ev Event) []byte {
	switch ev.Kind {
	case EventData:
		return escapeIAC(ev.Data)
	case EventCommand:
		return []byte{IAC, ev.Command}
	case EventNegotiate:
		return []byte{IAC, ev.Command, ev.Option}
	case EventSubNegotiate:
		out := make([]byte, 0, len(ev.Data)+5)
		out = append(out, IAC, SB, ev.Option)
		out = append(out, escapeIAC(ev.Data)...)
		out = append(out, IAC, SE)
		return out
	default:
		return nil
	}
}

func escapeIAC(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		out = append(out, b)
		if b == IAC {
			out = append(out, IAC)
		}
	}
	return out
}

// WriteTo writes already-encoded chunks to w, running them through the
// deflate writer if MCCP2 is engaged. Each call flushes the deflater (if
// active) so bytes reach the wire without added latency — MUD clients
// expect character-at-a-time responsiveness, not Nagle-style buffering
// inside the compressor.
func (c *Codec) WriteTo(w io.Writer, chunks ...[]byte) error {
	dst := w
	if c.deflate != nil {
		dst = c.deflate
	}
	for _, chunk := range chunks {
		if len(chunk) == 0 {
			continue
		}
		if _, err := dst.Write(chunk); err != nil {
			return err
		}
	}
	if c.deflate != nil {
		return c.deflate.Flush()
	}
	return nil
}

// StartDeflate engages MCCP2: every byte written through WriteTo from
// this call forward is zlib-compressed before reaching w. Per §4.1, the
// IAC SB MCCP2 IAC SE frame itself must already have been written
// uncompressed before calling this.
func (c *Codec) StartDeflate(w io.Writer) {
	c.deflate = zlib.NewWriter(w)
}

// StartInflate engages MCCP3: bytes passed to Decode from this call
// forward are first run through zlib-inflate. Decode calls this itself
// once it sees a completed SubNegotiate(MCCP3, ...) frame; it is exported
// so tests can drive the switch directly.
func (c *Codec) StartInflate() {
	if c.inflate == nil {
		c.inflate = newInflater()
	}
}
