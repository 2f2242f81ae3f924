package link

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

func TestLinkSendAndReceive(t *testing.T) {
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConns <- c
	}))
	defer srv.Close()

	l := New("ws" + strings.TrimPrefix(srv.URL, "http"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx, nil, nil)

	var conn *websocket.Conn
	select {
	case conn = <-serverConns:
	case <-time.After(time.Second):
		t.Fatal("backend never saw a connection")
	}
	defer conn.Close()

	l.SendClientConnected(ctx, ClientSnapshot{
		ID: 1, Addr: "1.2.3.4:5",
		Caps: CapabilitiesView{Width: 80, Height: 24, Colour: "ansi"},
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["kind"] != "client_connected" {
		t.Fatalf("unexpected kind: %+v", decoded)
	}

	if err := conn.WriteJSON(map[string]any{"kind": "server_request_clients"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case in := <-l.Inbound():
		if in.Kind != InboundRequestClients {
			t.Fatalf("unexpected inbound kind: %v", in.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the request_clients frame")
	}

	if err := conn.WriteJSON(map[string]any{
		"kind": "client_data",
		"id":   7,
		"data": []map[string]any{{"cmd": "text", "args": []any{"hi"}, "kwargs": map[string]any{}}},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case in := <-l.Inbound():
		if in.Kind != InboundClientData || in.ID != 7 {
			t.Fatalf("unexpected inbound: %+v", in)
		}
		if len(in.Data) != 1 || in.Data[0].Cmd != "text" {
			t.Fatalf("unexpected data: %+v", in.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for client_data")
	}
}

func TestLinkDropsUnknownKindFrame(t *testing.T) {
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, _ := upgrader.Upgrade(w, r, nil)
		serverConns <- c
	}))
	defer srv.Close()

	l := New("ws" + strings.TrimPrefix(srv.URL, "http"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx, nil, nil)

	conn := <-serverConns
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"kind": "unknown_kind"}`))
	conn.WriteJSON(map[string]any{"kind": "server_request_clients"})

	select {
	case in := <-l.Inbound():
		if in.Kind != InboundRequestClients {
			t.Fatalf("expected the unknown frame to be dropped, got %v", in.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the valid frame behind the unknown one")
	}
}
