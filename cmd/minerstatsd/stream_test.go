package main

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alexandrut83/minerstats/telemetry"
)

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stats/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readView(t *testing.T, conn *websocket.Conn) telemetry.StatsView {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var view telemetry.StatsView
	if err := conn.ReadJSON(&view); err != nil {
		t.Fatalf("read view: %v", err)
	}
	return view
}

func TestStreamPushesUpdates(t *testing.T) {
	s, store, _, _ := newTestServer(t, testConfig(), telemetry.Progress{})
	srv := httptest.NewServer(newRouter(s))
	t.Cleanup(srv.Close)

	conn := dialStream(t, srv)

	initial := readView(t, conn)
	if initial.TotalHashrateMH != nil || !initial.Stale {
		t.Fatalf("initial view = %+v, want empty and stale", initial)
	}

	store.ApplyLine("Total hashrate: 75.5 MHash/s")

	// Each write carries the latest state, so read until it shows up.
	for {
		view := readView(t, conn)
		if view.TotalHashrateMH == nil {
			continue
		}
		if *view.TotalHashrateMH != 75.5 || view.Stale {
			t.Fatalf("view = %+v, want total 75.5 and fresh", view)
		}
		break
	}
}

func TestStreamClosesOnShutdown(t *testing.T) {
	s, _, _, cancel := newTestServer(t, testConfig(), telemetry.Progress{})
	srv := httptest.NewServer(newRouter(s))
	t.Cleanup(srv.Close)

	conn := dialStream(t, srv)
	readView(t, conn)

	cancel()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
			t.Fatalf("read error = %v, want going-away close", err)
		}
		return
	}
}

func TestStreamCountsClients(t *testing.T) {
	s, _, _, _ := newTestServer(t, testConfig(), telemetry.Progress{})
	srv := httptest.NewServer(newRouter(s))
	t.Cleanup(srv.Close)

	conn := dialStream(t, srv)
	readView(t, conn)

	if got := s.streams.Load(); got != 1 {
		t.Fatalf("streams = %d, want 1", got)
	}

	conn.Close()
	deadline := time.Now().Add(5 * time.Second)
	for s.streams.Load() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("streams = %d after client left, want 0", s.streams.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamKeepsAliveWithPings(t *testing.T) {
	s, store, _, _ := newTestServer(t, testConfig(), telemetry.Progress{})
	s.pingPeriod = 20 * time.Millisecond
	srv := httptest.NewServer(newRouter(s))
	t.Cleanup(srv.Close)

	conn := dialStream(t, srv)
	pings := make(chan struct{}, 16)
	conn.SetPingHandler(func(data string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	readView(t, conn)
	conn.SetReadDeadline(time.Time{})

	views := make(chan telemetry.StatsView, 16)
	go func() {
		defer close(views)
		for {
			var view telemetry.StatsView
			if err := conn.ReadJSON(&view); err != nil {
				return
			}
			views <- view
		}
	}()

	timeout := time.After(5 * time.Second)
	for i := 0; i < 3; i++ {
		select {
		case <-pings:
		case <-timeout:
			t.Fatalf("received %d pings, want 3", i)
		}
	}

	store.ApplyLine("Total hashrate: 12 MHash/s")
	for {
		select {
		case view, ok := <-views:
			if !ok {
				t.Fatal("stream closed after pings")
			}
			if view.TotalHashrateMH != nil && *view.TotalHashrateMH == 12 {
				return
			}
		case <-timeout:
			t.Fatal("no update after pings")
		}
	}
}
