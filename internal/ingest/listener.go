// Package ingest binds the UDP socket that field trackers send extended
// GPGGA sentences to, parses each datagram, and hands parsed records to a
// caller-supplied handler.
//
// The handler runs on its own goroutine per datagram so a slow downstream
// can never stall socket reads; backpressure is applied further down the
// pipeline, at the outbound queue.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unicode/utf8"

	"golang.org/x/sys/unix"

	"gpgga-cot-relay/internal/gpgga"
)

// Bind failure causes, distinguishable with errors.Is.
var (
	ErrAddressInUse     = errors.New("ingest: address already in use")
	ErrPermissionDenied = errors.New("ingest: permission denied binding port")
)

type Config struct {
	Host string
	Port int

	// ReadBufferBytes is the requested kernel receive buffer size. Applying
	// it is best effort; 0 means 64 KiB.
	ReadBufferBytes int

	// Stats, when non-nil, receives per-datagram counter events in addition
	// to the listener's own snapshot counters.
	Stats Stats
}

// Stats is the ingest slice of the metrics collector.
type Stats interface {
	MessageReceived()
	MessageParsed()
	ParseError()
}

// Handler receives every successfully parsed record along with the sender
// address. It is invoked concurrently and must be safe for that.
type Handler func(rec gpgga.Record, sender *net.UDPAddr)

// Listener owns the UDP socket and read loop.
type Listener struct {
	cfg Config

	started atomic.Bool
	closed  atomic.Bool

	received     atomic.Uint64
	parseErrors  atomic.Uint64
	decodeErrors atomic.Uint64

	mu       sync.RWMutex
	lastSeen time.Time

	conn   *net.UDPConn
	cancel context.CancelFunc
	done   chan struct{}
}

type Snapshot struct {
	Addr         string  `json:"addr"`
	Received     uint64  `json:"messages_received"`
	ParseErrors  uint64  `json:"parse_errors"`
	DecodeErrors uint64  `json:"decode_errors"`
	ErrorRate    float64 `json:"error_rate"`
	LastSeenUTC  string  `json:"last_seen_utc,omitempty"`
}

func NewListener(cfg Config) *Listener {
	if cfg.ReadBufferBytes <= 0 {
		cfg.ReadBufferBytes = 64 * 1024
	}
	return &Listener{cfg: cfg, done: make(chan struct{})}
}

// Start binds the socket and begins the read loop. Bind failure is fatal and
// returned with a distinguishable cause; socket-option failures are logged
// and ignored.
func (l *Listener) Start(ctx context.Context, handler Handler) error {
	if l == nil {
		return fmt.Errorf("ingest listener is nil")
	}
	if handler == nil {
		return fmt.Errorf("ingest handler is nil")
	}
	if l.closed.Load() {
		return fmt.Errorf("ingest listener is closed")
	}
	if l.started.Swap(true) {
		return fmt.Errorf("ingest listener already started")
	}

	lc := net.ListenConfig{Control: reusePort}
	addr := fmt.Sprintf("%s:%d", l.cfg.Host, l.cfg.Port)
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return classifyBindError(addr, err)
	}
	conn := pc.(*net.UDPConn)
	if err := conn.SetReadBuffer(l.cfg.ReadBufferBytes); err != nil {
		slog.Warn("could not grow udp receive buffer", "bytes", l.cfg.ReadBufferBytes, "err", err)
	}
	l.conn = conn

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	// Unblock the blocking read when the context is cancelled.
	go func() {
		<-runCtx.Done()
		_ = conn.Close()
	}()

	go func() {
		defer close(l.done)
		l.readLoop(runCtx, handler)
	}()

	slog.Info("udp listener started", "addr", addr, "read_buffer", l.cfg.ReadBufferBytes)
	return nil
}

func (l *Listener) Close() {
	if l == nil {
		return
	}
	if l.closed.Swap(true) {
		return
	}
	if !l.started.Load() {
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	<-l.done
}

// LocalAddr reports the bound address, useful when Port was 0.
func (l *Listener) LocalAddr() net.Addr {
	if l == nil || l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

func (l *Listener) Snapshot() Snapshot {
	received := l.received.Load()
	parseErrs := l.parseErrors.Load()
	decodeErrs := l.decodeErrors.Load()

	out := Snapshot{
		Addr:         fmt.Sprintf("%s:%d", l.cfg.Host, l.cfg.Port),
		Received:     received,
		ParseErrors:  parseErrs,
		DecodeErrors: decodeErrs,
	}
	if received > 0 {
		out.ErrorRate = float64(parseErrs+decodeErrs) / float64(received)
	}
	l.mu.RLock()
	if !l.lastSeen.IsZero() {
		out.LastSeenUTC = l.lastSeen.UTC().Format(time.RFC3339Nano)
	}
	l.mu.RUnlock()
	return out
}

func (l *Listener) readLoop(ctx context.Context, handler Handler) {
	buf := make([]byte, 64*1024)
	for {
		n, sender, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("udp read failed", "err", err)
			continue
		}
		l.received.Add(1)
		if l.cfg.Stats != nil {
			l.cfg.Stats.MessageReceived()
		}
		l.mu.Lock()
		l.lastSeen = time.Now()
		l.mu.Unlock()

		if !utf8.Valid(buf[:n]) {
			l.decodeErrors.Add(1)
			if l.cfg.Stats != nil {
				l.cfg.Stats.ParseError()
			}
			slog.Warn("dropping non-utf8 datagram", "sender", sender.String(), "bytes", n)
			continue
		}
		line := strings.TrimSpace(string(buf[:n]))

		rec, err := gpgga.Parse(line)
		if err != nil {
			l.parseErrors.Add(1)
			if l.cfg.Stats != nil {
				l.cfg.Stats.ParseError()
			}
			slog.Warn("dropping unparseable sentence", "sender", sender.String(), "err", err)
			continue
		}
		if l.cfg.Stats != nil {
			l.cfg.Stats.MessageParsed()
		}

		// Fire-and-dispatch: the read loop never waits on the handler.
		go handler(rec, sender)
	}
}

// reusePort applies SO_REUSEADDR and SO_REUSEPORT where the platform supports
// them. Failures here are deliberately swallowed: the bind itself decides.
func reusePort(network, address string, c syscall.RawConn) error {
	return c.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
}

func classifyBindError(addr string, err error) error {
	switch {
	case errors.Is(err, unix.EADDRINUSE):
		return fmt.Errorf("%w: %s", ErrAddressInUse, addr)
	case errors.Is(err, unix.EACCES):
		return fmt.Errorf("%w: %s (ports below 1024 need elevated privileges)", ErrPermissionDenied, addr)
	default:
		return fmt.Errorf("ingest: bind %s: %w", addr, err)
	}
}
