package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gpgga-cot-relay/internal/ingest"
	"gpgga-cot-relay/internal/tak"
)

func testSources() Sources {
	return Sources{
		Ingest: func() ingest.Snapshot {
			return ingest.Snapshot{Addr: "0.0.0.0:5005", Received: 42, ParseErrors: 2, ErrorRate: 2.0 / 42.0}
		},
		Link: func() tak.Snapshot {
			return tak.Snapshot{Server: "tcp://localhost:8087", State: "connected", Connected: true, MessagesSent: 40}
		},
		Relay: func() RelayStatus {
			return RelayStatus{ActiveDevices: 3, KnownDevices: 5}
		},
	}
}

func TestAPIStatus(t *testing.T) {
	ts := httptest.NewServer(Handler(time.Now().UTC(), testSources(), nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}

	var snap StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if snap.Service != "gpgga-cot-relay" {
		t.Fatalf("service=%q", snap.Service)
	}
	if snap.UDP.Received != 42 || snap.UDP.ParseErrors != 2 {
		t.Fatalf("udp snapshot: %+v", snap.UDP)
	}
	if !snap.TAK.Connected || snap.TAK.MessagesSent != 40 {
		t.Fatalf("tak snapshot: %+v", snap.TAK)
	}
	if snap.Relay.ActiveDevices != 3 {
		t.Fatalf("relay snapshot: %+v", snap.Relay)
	}
}

func TestAPIStatus_MethodNotAllowed(t *testing.T) {
	ts := httptest.NewServer(Handler(time.Now().UTC(), testSources(), nil))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/status", "application/json", nil)
	if err != nil {
		t.Fatalf("post status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != http.MethodGet {
		t.Fatalf("allow=%q", allow)
	}
}

func TestAPIStatus_NilSources(t *testing.T) {
	ts := httptest.NewServer(Handler(time.Now().UTC(), Sources{}, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	ts := httptest.NewServer(Handler(time.Now().UTC(), Sources{}, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), "\"ok\":true") {
		t.Fatalf("healthz code=%d body=%q", resp.StatusCode, b)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	ctr := prometheus.NewCounter(prometheus.CounterOpts{Name: "gpgga_messages_received_total"})
	reg.MustRegister(ctr)
	ctr.Inc()

	ts := httptest.NewServer(Handler(time.Now().UTC(), Sources{}, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "gpgga_messages_received_total 1") {
		t.Fatalf("metrics body missing counter:\n%s", b)
	}
}

func TestMetricsDisabled(t *testing.T) {
	ts := httptest.NewServer(Handler(time.Now().UTC(), Sources{}, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status code=%d, want 404", resp.StatusCode)
	}
}
