package seriallink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

var (
	// ErrHandshake is returned by Connect when the peer never answers.
	ErrHandshake = errors.New("seriallink: handshake failed")

	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("seriallink: link closed")
)

const (
	// pollSlice bounds a single blocking read so cancellation is noticed.
	pollSlice = 50 * time.Millisecond

	// Per-call bounds for DrainUnsolicited.
	drainReads = 8
	readChunk  = 256

	// Partial lines longer than this are dropped.
	maxPending = 1024
)

// Config holds the link parameters.
type Config struct {
	Port           string
	Baud           int
	OpenSettle     time.Duration // board reset after open
	MaxAttempts    int
	AttemptTimeout time.Duration // wait for pong per probe
	RetryInterval  time.Duration // pause between probes
	InitSettle     time.Duration // pause after INIT
}

// DefaultConfig returns the parameters of the deployed board.
func DefaultConfig() Config {
	return Config{
		Port:           "/dev/ttyUSB0",
		Baud:           9600,
		OpenSettle:     5 * time.Second,
		MaxAttempts:    10,
		AttemptTimeout: 500 * time.Millisecond,
		RetryInterval:  0,
		InitSettle:     500 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.Baud)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("handshake attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.AttemptTimeout <= 0 {
		return fmt.Errorf("handshake timeout must be positive, got %s", c.AttemptTimeout)
	}
	if c.OpenSettle < 0 || c.RetryInterval < 0 || c.InitSettle < 0 {
		return errors.New("settle and retry durations must not be negative")
	}
	return nil
}

// Option configures a Link.
type Option func(*Link)

// WithOpener replaces the function used to open the port.
func WithOpener(open Opener) Option {
	return func(l *Link) {
		if open != nil {
			l.open = open
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Link) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Link is a connection to the peer.
type Link struct {
	cfg    Config
	open   Opener
	logger *slog.Logger

	state atomic.Int32

	sentMu sync.Mutex
	sent   map[string]int

	port    Port
	pending []byte
	buf     []byte
	closed  bool
}

// New creates a Disconnected link.
func New(cfg Config, opts ...Option) *Link {
	l := &Link{
		cfg:    cfg,
		open:   OpenSerial,
		logger: slog.Default(),
		sent:   make(map[string]int),
		buf:    make([]byte, readChunk),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("port", cfg.Port)
	return l
}

// State returns the current connection state.
func (l *Link) State() State {
	return State(l.state.Load())
}

func (l *Link) setState(s State) {
	prev := State(l.state.Swap(int32(s)))
	if prev != s {
		l.logger.Debug("serial state", "from", prev, "to", s)
	}
}

// Sent returns how many times token has been written.
func (l *Link) Sent(token string) int {
	l.sentMu.Lock()
	defer l.sentMu.Unlock()
	return l.sent[token]
}

// Connect opens the port and performs the handshake. On success the link is
// Ready. On failure it is Faulted, the port is released and the reason is
// returned; callers normally log it and carry on without a peer.
func (l *Link) Connect(ctx context.Context) error {
	if l.closed {
		return ErrClosed
	}
	if l.State() == Ready {
		return nil
	}
	l.release()

	l.setState(Connecting)
	port, err := l.open(l.cfg.Port, l.cfg.Baud)
	if err != nil {
		return l.fault(err)
	}
	l.port = port
	l.logger.Info("serial port opened", "baud", l.cfg.Baud, "settle", l.cfg.OpenSettle)
	if err := sleep(ctx, l.cfg.OpenSettle); err != nil {
		return l.fault(err)
	}

	l.setState(Handshaking)
	if err := l.handshake(ctx); err != nil {
		return l.fault(err)
	}

	if err := l.writeLine(string(CmdInit)); err != nil {
		return l.fault(fmt.Errorf("seriallink: send INIT: %w", err))
	}
	if err := sleep(ctx, l.cfg.InitSettle); err != nil {
		return l.fault(err)
	}
	if err := l.port.ResetInputBuffer(); err != nil {
		return l.fault(fmt.Errorf("seriallink: reset input: %w", err))
	}
	l.pending = l.pending[:0]
	if err := l.port.SetReadTimeout(0); err != nil {
		return l.fault(fmt.Errorf("seriallink: set read timeout: %w", err))
	}

	l.setState(Ready)
	l.logger.Info("serial peer ready")
	return nil
}

func (l *Link) handshake(ctx context.Context) error {
	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.writeLine(Ping); err != nil {
			return fmt.Errorf("seriallink: send ping: %w", err)
		}
		ok, err := l.await(ctx, Pong, l.cfg.AttemptTimeout)
		if err != nil {
			return err
		}
		if ok {
			l.logger.Info("handshake complete", "attempt", attempt)
			return nil
		}
		l.logger.Debug("no pong", "attempt", attempt, "max", l.cfg.MaxAttempts)
		if attempt < l.cfg.MaxAttempts {
			if err := sleep(ctx, l.cfg.RetryInterval); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrHandshake, l.cfg.MaxAttempts)
}

// await reads lines until one equals want or timeout elapses.
func (l *Link) await(ctx context.Context, want string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		for {
			line, ok := l.nextLine()
			if !ok {
				break
			}
			if line == want {
				return true, nil
			}
			l.discard(line)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := l.port.SetReadTimeout(min(remaining, pollSlice)); err != nil {
			return false, fmt.Errorf("seriallink: set read timeout: %w", err)
		}
		n, err := l.port.Read(l.buf)
		if n > 0 {
			l.appendPending(l.buf[:n])
		}
		if err != nil {
			return false, fmt.Errorf("seriallink: read: %w", err)
		}
	}
}

// Dispatch sends cmd if the link is Ready and reports whether it was
// written. Delivery is not acknowledged. A write failure faults the link.
func (l *Link) Dispatch(cmd Command) bool {
	if l.State() != Ready {
		return false
	}
	if err := l.writeLine(string(cmd)); err != nil {
		l.fault(fmt.Errorf("seriallink: send %s: %w", cmd, err))
		return false
	}
	return true
}

// DrainUnsolicited reads and discards whatever the peer has sent, without
// blocking. It performs a bounded number of reads per call and returns the
// number of complete lines discarded. Read errors are ignored.
func (l *Link) DrainUnsolicited() int {
	if l.port == nil || l.State() != Ready {
		return 0
	}
	for range drainReads {
		n, err := l.port.Read(l.buf)
		if n > 0 {
			l.appendPending(l.buf[:n])
		}
		if err != nil {
			l.logger.Debug("drain read", "error", err)
			break
		}
		if n < len(l.buf) {
			break
		}
	}
	lines := 0
	for {
		line, ok := l.nextLine()
		if !ok {
			break
		}
		l.discard(line)
		lines++
	}
	return lines
}

// Close releases the port. It is safe to call more than once.
func (l *Link) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	err := l.release()
	l.setState(Disconnected)
	return err
}

func (l *Link) release() error {
	l.pending = l.pending[:0]
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}

func (l *Link) fault(err error) error {
	l.release()
	l.setState(Faulted)
	l.logger.Warn("serial link faulted", "error", err)
	return err
}

func (l *Link) writeLine(token string) error {
	if l.port == nil {
		return errors.New("port not open")
	}
	if _, err := l.port.Write([]byte(token + "\n")); err != nil {
		return err
	}
	l.sentMu.Lock()
	l.sent[token]++
	l.sentMu.Unlock()
	return nil
}

func (l *Link) appendPending(p []byte) {
	l.pending = append(l.pending, p...)
	if len(l.pending) > maxPending && bytes.IndexByte(l.pending, '\n') < 0 {
		l.logger.Debug("dropping oversized partial line", "bytes", len(l.pending))
		l.pending = l.pending[:0]
	}
}

func (l *Link) nextLine() (string, bool) {
	i := bytes.IndexByte(l.pending, '\n')
	if i < 0 {
		return "", false
	}
	line := string(bytes.TrimSpace(l.pending[:i]))
	l.pending = append(l.pending[:0], l.pending[i+1:]...)
	return line, true
}

func (l *Link) discard(line string) {
	if !utf8.ValidString(line) {
		l.logger.Debug("peer sent undecodable line", "bytes", len(line))
		return
	}
	l.logger.Debug("peer", "line", line)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
