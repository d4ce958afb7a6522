package ingest

import (
	"context"
	"errors"
	"net"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"gpgga-cot-relay/internal/gpgga"
)

func startListener(t *testing.T, handler Handler) (*Listener, *net.UDPConn) {
	t.Helper()
	l := NewListener(Config{Host: "127.0.0.1", Port: 0})
	if err := l.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(l.Close)

	conn, err := net.DialUDP("udp", nil, l.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return l, conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestListener_DeliversParsedRecords(t *testing.T) {
	got := make(chan gpgga.Record, 1)
	_, conn := startListener(t, func(rec gpgga.Record, sender *net.UDPAddr) {
		got <- rec
	})

	line := gpgga.BuildSentence(time.Now(), 36.0, -94.0, 100.0, "DEV1")
	if _, err := conn.Write([]byte(line)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case rec := <-got:
		if rec.DeviceID != "DEV1" {
			t.Fatalf("device=%q", rec.DeviceID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no record delivered")
	}
}

func TestListener_CountsParseErrors(t *testing.T) {
	l, conn := startListener(t, func(rec gpgga.Record, sender *net.UDPAddr) {
		t.Errorf("handler must not fire for a bad sentence")
	})

	if _, err := conn.Write([]byte("$GPGGA,not a sentence*00")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "parse error count", func() bool { return l.Snapshot().ParseErrors == 1 })

	snap := l.Snapshot()
	if snap.Received != 1 {
		t.Fatalf("received=%d want 1", snap.Received)
	}
	if snap.ErrorRate != 1.0 {
		t.Fatalf("error_rate=%v want 1", snap.ErrorRate)
	}
}

func TestListener_CountsDecodeErrors(t *testing.T) {
	l, conn := startListener(t, func(rec gpgga.Record, sender *net.UDPAddr) {
		t.Errorf("handler must not fire for a non-utf8 datagram")
	})

	if _, err := conn.Write([]byte{0xff, 0xfe, 0xfd}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "decode error count", func() bool { return l.Snapshot().DecodeErrors == 1 })
}

func TestClassifyBindError(t *testing.T) {
	inUse := &net.OpError{Op: "listen", Net: "udp", Err: os.NewSyscallError("bind", unix.EADDRINUSE)}
	if err := classifyBindError("0.0.0.0:5005", inUse); !errors.Is(err, ErrAddressInUse) {
		t.Fatalf("err=%v want ErrAddressInUse", err)
	}
	denied := &net.OpError{Op: "listen", Net: "udp", Err: os.NewSyscallError("bind", unix.EACCES)}
	if err := classifyBindError("0.0.0.0:99", denied); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err=%v want ErrPermissionDenied", err)
	}
	other := errors.New("boom")
	err := classifyBindError("0.0.0.0:5005", other)
	if errors.Is(err, ErrAddressInUse) || errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err=%v should not classify", err)
	}
	if !errors.Is(err, other) {
		t.Fatalf("err=%v should wrap cause", err)
	}
}

func TestListener_StartTwiceFails(t *testing.T) {
	l := NewListener(Config{Host: "127.0.0.1", Port: 0})
	if err := l.Start(context.Background(), func(gpgga.Record, *net.UDPAddr) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(l.Close)
	if err := l.Start(context.Background(), func(gpgga.Record, *net.UDPAddr) {}); err == nil {
		t.Fatalf("second Start should fail")
	}
}

func TestListener_CloseUnblocksRead(t *testing.T) {
	l := NewListener(Config{Host: "127.0.0.1", Port: 0})
	if err := l.Start(context.Background(), func(gpgga.Record, *net.UDPAddr) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		l.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not return")
	}
}

type countingStats struct {
	received atomic.Uint64
	parsed   atomic.Uint64
	errors   atomic.Uint64
}

func (s *countingStats) MessageReceived() { s.received.Add(1) }
func (s *countingStats) MessageParsed()   { s.parsed.Add(1) }
func (s *countingStats) ParseError()      { s.errors.Add(1) }

func TestListener_DrivesStats(t *testing.T) {
	stats := &countingStats{}
	l := NewListener(Config{Host: "127.0.0.1", Port: 0, Stats: stats})
	if err := l.Start(context.Background(), func(gpgga.Record, *net.UDPAddr) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(l.Close)

	conn, err := net.DialUDP("udp", nil, l.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	good := gpgga.BuildSentence(time.Now(), 36.0, -94.0, 100.0, "DEV1")
	for _, payload := range []string{good, "not a sentence"} {
		if _, err := conn.Write([]byte(payload)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	waitFor(t, "stats counters", func() bool {
		return stats.received.Load() == 2 && stats.parsed.Load() == 1 && stats.errors.Load() == 1
	})
}
