package tak

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func testConfig(addr string) Config {
	return Config{
		ServerURL:           "tcp://" + addr,
		ReconnectInterval:   20 * time.Millisecond,
		SendTimeout:         100 * time.Millisecond,
		HealthCheckInterval: 50 * time.Millisecond,
		DialTimeout:         time.Second,
		QueueSize:           16,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewClient_RejectsUnsupportedScheme(t *testing.T) {
	for _, u := range []string{"udp://localhost:5005", "http://localhost", "localhost:8087"} {
		if _, err := NewClient(Config{ServerURL: u}); err == nil {
			t.Fatalf("NewClient(%q) should fail", u)
		}
	}
}

func TestNewClient_DefaultPorts(t *testing.T) {
	c, err := NewClient(Config{ServerURL: "tcp://takserver.example.com"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.addr != "takserver.example.com:8087" {
		t.Fatalf("addr=%q", c.addr)
	}
	c, err = NewClient(Config{ServerURL: "tls://takserver.example.com"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.addr != "takserver.example.com:8089" {
		t.Fatalf("addr=%q", c.addr)
	}
}

func TestNewClient_TLSCredentialPairing(t *testing.T) {
	_, err := NewClient(Config{ServerURL: "tls://h:1", CertFile: "cert.pem"})
	if err == nil {
		t.Fatalf("cert without key should fail")
	}
	_, err = NewClient(Config{ServerURL: "tls://h:1", CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"})
	if err == nil {
		t.Fatalf("unloadable credentials should fail construction")
	}
}

func TestNewClient_NoCADisablesVerification(t *testing.T) {
	c, err := NewClient(Config{ServerURL: "tls://h:1"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if !c.insecure || c.tlsConf == nil || !c.tlsConf.InsecureSkipVerify {
		t.Fatalf("expected verification disabled without a ca certificate")
	}
}

func TestClient_DeliversInOrder(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	lines := make(chan string, 8)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			lines <- line
		}
	}()

	c, err := NewClient(testConfig(ln.Addr().String()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	waitFor(t, "connect", c.Connected)
	for _, msg := range []string{"<event>1</event>", "<event>2</event>", "<event>3</event>"} {
		if err := c.Send([]byte(msg)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for _, want := range []string{"<event>1</event>\n", "<event>2</event>\n", "<event>3</event>\n"} {
		select {
		case got := <-lines:
			if got != want {
				t.Fatalf("got %q want %q", got, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("server never received %q", want)
		}
	}

	snap := c.Snapshot()
	if snap.MessagesSent != 3 || snap.SendErrors != 0 {
		t.Fatalf("snapshot=%+v", snap)
	}
}

// With a permanently unreachable server and capacity 2, the first two sends
// are accepted and the third fails within the send timeout.
func TestClient_BackpressureDropsBeyondCapacity(t *testing.T) {
	cfg := testConfig("127.0.0.1:1") // nothing listens here
	cfg.QueueSize = 2
	cfg.SendTimeout = 50 * time.Millisecond
	cfg.ReconnectInterval = time.Hour

	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("Send 1: %v", err)
	}
	if err := c.Send([]byte("b")); err != nil {
		t.Fatalf("Send 2: %v", err)
	}

	start := time.Now()
	err = c.Send([]byte("c"))
	elapsed := time.Since(start)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Send 3: err=%v want ErrQueueFull", err)
	}
	if elapsed > time.Second {
		t.Fatalf("Send 3 blocked %v, must respect send timeout", elapsed)
	}

	snap := c.Snapshot()
	if snap.Dropped != 1 || snap.SendErrors != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap.QueueSize != 2 || snap.QueueCapacity != 2 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap.Connected {
		t.Fatalf("should not report connected")
	}
}

// After the server drops an established connection, the loop must notice,
// transition to disconnected, and reconnect at the fixed interval.
func TestClient_ReconnectsAfterServerClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 2)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	c, err := NewClient(testConfig(ln.Addr().String()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	var first net.Conn
	select {
	case first = <-accepted:
	case <-time.After(3 * time.Second):
		t.Fatalf("no first connection")
	}
	waitFor(t, "first connect", c.Connected)

	_ = first.Close()
	waitFor(t, "disconnect noticed", func() bool { return !c.Connected() })

	select {
	case <-accepted:
	case <-time.After(3 * time.Second):
		t.Fatalf("no reconnection")
	}
	waitFor(t, "second connect", c.Connected)
}

func TestClient_StopDiscardsQueue(t *testing.T) {
	cfg := testConfig("127.0.0.1:1")
	cfg.ReconnectInterval = time.Hour
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_ = c.Send([]byte("queued"))

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("Stop did not return")
	}

	if err := c.Send([]byte("after stop")); !errors.Is(err, errClosed) {
		t.Fatalf("Send after Stop: %v", err)
	}
}
