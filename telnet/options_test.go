package telnet

import "testing"

func TestNegotiationSymmetry(t *testing.T) {
	caps := DefaultCapabilities()
	n := NewNegotiator(DefaultPolicy(), &caps)

	replies := n.HandleNegotiate(DO, OptSGA)
	if len(replies) != 1 || replies[0].Kind != EventNegotiate || replies[0].Command != WILL {
		t.Fatalf("expected a WILL reply, got %+v", replies)
	}
	if !caps.SGA {
		t.Fatalf("expected SGA enabled after DO reply")
	}

	// Repeated DO after enabling is a no-op: no reply, no state change.
	replies = n.HandleNegotiate(DO, OptSGA)
	if len(replies) != 0 {
		t.Fatalf("expected no-op reply, got %+v", replies)
	}
}

func TestUnknownOptionRefused(t *testing.T) {
	caps := DefaultCapabilities()
	n := NewNegotiator(DefaultPolicy(), &caps)

	replies := n.HandleNegotiate(WILL, 99)
	if len(replies) != 1 || replies[0].Command != DONT || replies[0].Option != 99 {
		t.Fatalf("expected a single DONT 99 reply, got %+v", replies)
	}

	replies = n.HandleNegotiate(DO, 99)
	if len(replies) != 1 || replies[0].Command != WONT || replies[0].Option != 99 {
		t.Fatalf("expected a single WONT 99 reply, got %+v", replies)
	}
}

func TestStartEmitsPolicyRequests(t *testing.T) {
	caps := DefaultCapabilities()
	n := NewNegotiator(DefaultPolicy(), &caps)
	events := n.Start()

	var sawWillSGA, sawDoNAWS, sawDoTTYPE bool
	for _, ev := range events {
		if ev.Kind != EventNegotiate {
			continue
		}
		switch {
		case ev.Command == WILL && ev.Option == OptSGA:
			sawWillSGA = true
		case ev.Command == DO && ev.Option == OptNAWS:
			sawDoNAWS = true
		case ev.Command == DO && ev.Option == OptTTYPE:
			sawDoTTYPE = true
		}
	}
	if !sawWillSGA || !sawDoNAWS || !sawDoTTYPE {
		t.Fatalf("missing expected start negotiations: %+v", events)
	}
	if n.Ready() {
		t.Fatalf("expected handshakes pending right after Start")
	}
}

func TestNAWSResizePropagation(t *testing.T) {
	caps := DefaultCapabilities()
	n := NewNegotiator(DefaultPolicy(), &caps)

	changed, ok := n.ApplyNAWS([]byte{0x00, 0x50, 0x00, 0x18})
	if !ok || !changed {
		t.Fatalf("expected a change on first NAWS (80x24), got changed=%v ok=%v", changed, ok)
	}
	if caps.Width != 80 || caps.Height != 24 {
		t.Fatalf("unexpected size: %dx%d", caps.Width, caps.Height)
	}

	changed, ok = n.ApplyNAWS([]byte{0x00, 0x50, 0x00, 0x18})
	if !ok || changed {
		t.Fatalf("expected no change for identical size, got changed=%v ok=%v", changed, ok)
	}

	changed, ok = n.ApplyNAWS([]byte{0x00, 0xA0, 0x00, 0x32})
	if !ok || !changed {
		t.Fatalf("expected a change on resize, got changed=%v ok=%v", changed, ok)
	}
	if caps.Width != 160 || caps.Height != 50 {
		t.Fatalf("unexpected resized dimensions: %dx%d", caps.Width, caps.Height)
	}
}

func TestNAWSDisableResetsDefaults(t *testing.T) {
	caps := DefaultCapabilities()
	n := NewNegotiator(DefaultPolicy(), &caps)
	n.HandleNegotiate(WILL, OptNAWS)
	n.ApplyNAWS([]byte{0x00, 0xA0, 0x00, 0x32})
	n.HandleNegotiate(WONT, OptNAWS)

	if caps.Width != 78 || caps.Height != 24 {
		t.Fatalf("expected defaults restored, got %dx%d", caps.Width, caps.Height)
	}
}
