// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/mdcstat/pkg/roboteq"
)

// newBridge starts a WebSocket server that hands each connection to handler
func newBridge(t *testing.T, handler func(r *http.Request, conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(r, conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// untilClosed blocks until the client goes away
func untilClosed(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestWebSocketConnection_ReadWrite(t *testing.T) {
	written := make(chan string, 1)
	url := newBridge(t, func(r *http.Request, conn *websocket.Conn) {
		conn.WriteMessage(websocket.BinaryMessage, []byte("A=15:"))
		conn.WriteMessage(websocket.TextMessage, []byte("25\r"))
		_, data, err := conn.ReadMessage()
		if err == nil {
			written <- string(data)
		}
		untilClosed(conn)
	})

	ws, err := OpenWebSocketConnection(url, "", "", false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ws.Close()
	ws.SetReadTimeout(2 * time.Second)

	var got strings.Builder
	buf := make([]byte, 4)
	for got.Len() < len("A=15:25\r") {
		n, err := ws.Read(buf)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if n == 0 {
			t.Fatal("Read timed out before all data arrived")
		}
		got.Write(buf[:n])
	}
	if got.String() != "A=15:25\r" {
		t.Errorf("Expected %q, got %q", "A=15:25\r", got.String())
	}

	if n, err := ws.Write([]byte("?A\r")); err != nil || n != 3 {
		t.Fatalf("Write returned %d, %v", n, err)
	}
	select {
	case msg := <-written:
		if msg != "?A\r" {
			t.Errorf("Bridge received %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Bridge never received the write")
	}
}

func TestWebSocketConnection_ReadTimeout(t *testing.T) {
	url := newBridge(t, func(r *http.Request, conn *websocket.Conn) {
		untilClosed(conn)
	})

	ws, err := OpenWebSocketConnection(url, "", "", false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ws.Close()
	ws.SetReadTimeout(20 * time.Millisecond)

	start := time.Now()
	n, err := ws.Read(make([]byte, 16))
	if n != 0 || err != nil {
		t.Errorf("Expected empty timed out read, got %d, %v", n, err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Read returned before the timeout")
	}
	if !ws.IsOpen() {
		t.Error("Timeout should not close the connection")
	}
}

func TestWebSocketConnection_RemoteClose(t *testing.T) {
	url := newBridge(t, func(r *http.Request, conn *websocket.Conn) {})

	ws, err := OpenWebSocketConnection(url, "", "", false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ws.Close()
	ws.SetReadTimeout(100 * time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := ws.Read(make([]byte, 16))
		if errors.Is(err, ErrConnectionClosed) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Read never reported the closed connection")
		}
	}
	if ws.IsOpen() {
		t.Error("IsOpen should be false after the bridge hung up")
	}
	if _, err := ws.Write([]byte("!EX\r")); err == nil {
		t.Error("Write on a closed connection should fail")
	}
}

func TestWebSocketConnection_BasicAuth(t *testing.T) {
	auth := make(chan string, 1)
	url := newBridge(t, func(r *http.Request, conn *websocket.Conn) {
		auth <- r.Header.Get("Authorization")
		untilClosed(conn)
	})

	ws, err := OpenWebSocketConnection(url, "operator", "secret", false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ws.Close()

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("operator:secret"))
	if got := <-auth; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestOpenWebSocketConnection_BadScheme(t *testing.T) {
	if _, err := OpenWebSocketConnection("http://localhost/bridge", "", "", false); err == nil {
		t.Error("Expected an error for http:// URL")
	}
}

func TestController_OverWebSocket(t *testing.T) {
	url := newBridge(t, func(r *http.Request, conn *websocket.Conn) {
		conn.WriteMessage(websocket.BinaryMessage, []byte("FF=1"))
		conn.WriteMessage(websocket.BinaryMessage, []byte("6\r"))
		untilClosed(conn)
	})

	ws, err := OpenWebSocketConnection(url, "", "", false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	faults := make(chan roboteq.FaultFlags, 1)
	ctrl := roboteq.NewController(ws, roboteq.WithReadTimeout(10*time.Millisecond))
	defer ctrl.Close()
	ctrl.OnQuery(func(s roboteq.Status, kind roboteq.QueryKind) {
		if kind == roboteq.QueryFaultFlags {
			faults <- s.Faults
		}
	})

	if err := ctrl.StartContinuousReading(context.Background()); err != nil {
		t.Fatalf("StartContinuousReading failed: %v", err)
	}

	select {
	case f := <-faults:
		if !f.EmergencyStop || f.Byte() != 16 {
			t.Errorf("Expected emergency stop only, got %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No fault flags decoded")
	}
}
