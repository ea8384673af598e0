package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pulsera/internal/clock"
	"pulsera/internal/collector"
	"pulsera/internal/db"
	"pulsera/internal/registry"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type brokerStub bool

func (b brokerStub) IsConnected() bool { return bool(b) }

func newTestServer(t *testing.T, sessions func() []*collector.Session) (*httptest.Server, *registry.Registry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	conn, err := db.Open(":memory:", logger)
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	reg, err := registry.New(conn, clock.NewManual(t0), logger)
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}

	srv := NewServer(":0", Deps{DB: conn, Registry: reg, Broker: brokerStub(true), Sessions: sessions, Logger: logger})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts, reg
}

func mustGetJSON[T any](t *testing.T, client *http.Client, url string, out *T) *http.Response {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	var body map[string]string
	resp := mustGetJSON(t, ts.Client(), ts.URL+"/healthz", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if body["status"] != "ok" || body["mqtt"] != "connected" {
		t.Errorf("body = %v", body)
	}
}

func TestHealthz_DatabaseClosed(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	conn, err := db.Open(":memory:", logger)
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	conn.Close()

	ts := httptest.NewServer(NewMux(Deps{DB: conn, Logger: logger}))
	defer ts.Close()

	var body map[string]any
	resp := mustGetJSON(t, ts.Client(), ts.URL+"/healthz", &body)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
	if body["error"] != http.StatusText(http.StatusServiceUnavailable) {
		t.Errorf("error = %v", body["error"])
	}
}

func TestDevices(t *testing.T) {
	var active []*collector.Session
	ts, reg := newTestServer(t, func() []*collector.Session { return active })

	left, err := reg.Add(registry.Device{Address: "AA:00:00:00:00:01", Name: "Puls_1", Position: registry.LeftWrist})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := reg.Add(registry.Device{Address: "AA:00:00:00:00:02", Name: "Puls_2", Position: registry.RightHip}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	s := collector.NewSession(left, t0.Add(time.Minute))
	active = []*collector.Session{s}

	var got []deviceView
	resp := mustGetJSON(t, ts.Client(), ts.URL+"/devices", &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if len(got) != 2 {
		t.Fatalf("devices = %d, want 2", len(got))
	}
	online := map[string]deviceView{}
	for _, d := range got {
		online[d.Address] = d
	}
	if d := online["AA:00:00:00:00:01"]; !d.Online || d.SessionID != s.ID.String() || d.SessionStart == nil {
		t.Errorf("left wrist = %+v, want online with session", d)
	}
	if d := online["AA:00:00:00:00:02"]; d.Online || d.SessionID != "" {
		t.Errorf("right hip = %+v, want offline", d)
	}
}

func TestUnknownRoute(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, err := ts.Client().Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}
