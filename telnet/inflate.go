package telnet

import (
	"compress/zlib"
	"io"
	"time"
)

// chanReader adapts a channel of byte chunks to io.Reader, blocking the
// reader goroutine until the feeder has more bytes (or closes the
// channel). Order is preserved because there is exactly one writer and
// one channel — no io.Pipe ordering hazard from concurrent writers.
type chanReader struct {
	ch  chan []byte
	cur []byte
}

func (r *chanReader) Read(p []byte) (int, error) {
	for len(r.cur) == 0 {
		chunk, ok := <-r.ch
		if !ok {
			return 0, io.EOF
		}
		r.cur = chunk
	}
	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

// inflater runs zlib-inflate over a push-fed byte stream. Bytes arrive via
// feed() (called from the session's single-threaded Decode path); a
// dedicated goroutine owns the zlib.Reader and drains decompressed output
// into a buffered channel, so feed() never has to block waiting on the
// decompressor itself.
type inflater struct {
	in   chan []byte
	out  chan []byte
	errc chan error
	done chan struct{}
}

func newInflater() *inflater {
	f := &inflater{
		in:   make(chan []byte, 64),
		out:  make(chan []byte, 64),
		errc: make(chan error, 1),
		done: make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *inflater) run() {
	defer close(f.out)
	zr, err := zlib.NewReader(&chanReader{ch: f.in})
	if err != nil {
		select {
		case f.errc <- err:
		default:
		}
		return
	}
	buf := make([]byte, 4096)
	for {
		n, err := zr.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case f.out <- chunk:
			case <-f.done:
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				select {
				case f.errc <- err:
				default:
				}
			}
			return
		}
	}
}

// feed pushes newly-arrived compressed bytes into the decompressor and
// returns whatever plaintext is immediately ready. An empty, nil-error
// result means the decompressor needs more input before it can produce
// anything — the normal "need more input" case.
//
// The first wait after a non-empty feed is given a short grace period for
// the background goroutine to run and produce output; every subsequent
// drain is non-blocking. This keeps feed() from ever hanging indefinitely
// (a legitimate "not enough compressed bytes yet" case is common) while
// still reliably picking up output that the goroutine produces promptly.
func (f *inflater) feed(data []byte) ([]byte, error) {
	fed := len(data) > 0
	if fed {
		select {
		case f.in <- append([]byte(nil), data...):
		case <-f.done:
			return nil, nil
		}
	}

	var out []byte

	// First wait: give the background goroutine a short grace period to
	// run, but never block forever — "not enough compressed bytes yet"
	// is a normal outcome, not an error.
	if fed {
		select {
		case chunk, ok := <-f.out:
			if !ok {
				return out, firstErr(f.errc)
			}
			out = append(out, chunk...)
		case err := <-f.errc:
			return out, err
		case <-time.After(5 * time.Millisecond):
			return out, nil
		}
	}

	// Drain anything else already queued, non-blocking.
	for {
		select {
		case chunk, ok := <-f.out:
			if !ok {
				return out, firstErr(f.errc)
			}
			out = append(out, chunk...)
		case err := <-f.errc:
			return out, err
		default:
			return out, nil
		}
	}
}

func firstErr(errc chan error) error {
	select {
	case err := <-errc:
		return err
	default:
		return nil
	}
}

func (f *inflater) close() {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	close(f.in)
}
