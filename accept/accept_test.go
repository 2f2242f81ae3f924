package accept

import (
	"bufio"
	"net"
	"testing"
	"time"
)

func TestClassifyRequestLine(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want httpStatus
	}{
		{"complete get", "GET / HTTP/1.1\r\n", httpComplete},
		{"complete with path", "POST /portal/connect HTTP/1.1\r\n", httpComplete},
		{"unknown method", "FROB / HTTP/1.1\r\n", httpInvalid},
		{"no http marker in full line", "GET /\r\n", httpInvalid},
		{"partial method", "GE", httpPartial},
		{"partial after method", "GET /portal", httpPartial},
		{"empty", "", httpPartial},
		{"telnet bytes", "\xff\xfb\x18", httpInvalid},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := classifyRequestLine([]byte(c.in))
			if got != c.want {
				t.Errorf("classifyRequestLine(%q) = %v, want %v", c.in, got, c.want)
			}
		})
	}
}

func TestLooksLikeClientHello(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	go func() {
		client.Write([]byte{0x16, 0x03, 0x01, 0x00, 0x4c})
	}()

	br := bufio.NewReaderSize(server, 5)
	if !looksLikeClientHello(server, br) {
		t.Fatal("expected a ClientHello-shaped prefix to be detected")
	}
}

func TestLooksLikeClientHelloRejectsTelnet(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	go func() {
		client.Write([]byte{0xff, 0xfb, 0x18})
	}()

	br := bufio.NewReaderSize(server, 5)
	if looksLikeClientHello(server, br) {
		t.Fatal("did not expect IAC WILL MTTS to classify as a ClientHello")
	}
}

func TestClassifyHTTPAcrossPartialWrites(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	go func() {
		client.Write([]byte("GET /por"))
		time.Sleep(5 * time.Millisecond)
		client.Write([]byte("tal HTTP/1.1\r\n"))
	}()

	br := bufio.NewReaderSize(server, httpPeekCap)
	if status := classifyHTTP(server, br); status != httpComplete {
		t.Fatalf("expected httpComplete once the full request line arrives, got %v", status)
	}
}

func TestClassifyHTTPTimesOutOnTelnet(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	go func() {
		client.Write([]byte{0xff, 0xfb, 0x18})
	}()

	br := bufio.NewReaderSize(server, httpPeekCap)
	if status := classifyHTTP(server, br); status != httpInvalid {
		t.Fatalf("expected httpInvalid for telnet bytes, got %v", status)
	}
}
