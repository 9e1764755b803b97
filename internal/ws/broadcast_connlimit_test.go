package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialTestWS creates a test HTTP server that upgrades to WebSocket and
// returns both ends of the connection: the server-side conn (what
// AddClient takes) and the client-side conn (what a real viewer would
// hold, usable to assert on what was actually sent over the wire). The
// caller must close srv and clientConn.
func dialTestWS(t *testing.T) (srv *httptest.Server, serverConn *websocket.Conn, clientConn *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}

	select {
	case serverConn := <-connCh:
		return srv, serverConn, clientConn
	case <-time.After(2 * time.Second):
		srv.Close()
		clientConn.Close()
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil, nil
	}
}

// readWSMessage reads and decodes the next JSON frame off conn.
func readWSMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return msg
}

func TestAddClient_MaxConnections(t *testing.T) {
	const maxConns = 2
	b := NewBroadcaster(maxConns, DefaultHighWaterMark, DefaultLowWaterMark)

	var clients []*client
	var servers []*httptest.Server
	var clientConns []*websocket.Conn
	defer func() {
		for _, cc := range clientConns {
			cc.Close()
		}
		for _, srv := range servers {
			srv.Close()
		}
	}()

	for i := 0; i < maxConns; i++ {
		srv, serverConn, clientConn := dialTestWS(t)
		servers = append(servers, srv)
		clientConns = append(clientConns, clientConn)

		c, err := b.AddClient(serverConn)
		if err != nil {
			t.Fatalf("AddClient[%d]: unexpected error: %v", i, err)
		}
		clients = append(clients, c)
	}

	if got := b.ClientCount(); got != maxConns {
		t.Fatalf("expected %d clients, got %d", maxConns, got)
	}

	// Next connection should be rejected.
	srv, serverConn, clientConn := dialTestWS(t)
	servers = append(servers, srv)
	clientConns = append(clientConns, clientConn)

	_, err := b.AddClient(serverConn)
	if !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("expected ErrTooManyConnections, got %v", err)
	}

	if got := b.ClientCount(); got != maxConns {
		t.Fatalf("expected %d clients after rejection, got %d", maxConns, got)
	}

	// Remove one client, then adding should succeed again.
	b.RemoveClient(clients[0])

	srv2, serverConn2, clientConn2 := dialTestWS(t)
	servers = append(servers, srv2)
	clientConns = append(clientConns, clientConn2)

	_, err = b.AddClient(serverConn2)
	if err != nil {
		t.Fatalf("AddClient after removal: unexpected error: %v", err)
	}

	if got := b.ClientCount(); got != maxConns {
		t.Fatalf("expected %d clients after re-add, got %d", maxConns, got)
	}
}

func TestAddClient_ZeroMaxConnections_Unlimited(t *testing.T) {
	b := NewBroadcaster(0, DefaultHighWaterMark, DefaultLowWaterMark)

	var servers []*httptest.Server
	var clientConns []*websocket.Conn
	defer func() {
		for _, cc := range clientConns {
			cc.Close()
		}
		for _, srv := range servers {
			srv.Close()
		}
	}()

	for i := 0; i < 10; i++ {
		srv, serverConn, clientConn := dialTestWS(t)
		servers = append(servers, srv)
		clientConns = append(clientConns, clientConn)

		_, err := b.AddClient(serverConn)
		if err != nil {
			t.Fatalf("AddClient[%d]: unexpected error with maxConns=0: %v", i, err)
		}
	}

	if got := b.ClientCount(); got != 10 {
		t.Fatalf("expected 10 clients, got %d", got)
	}
}
