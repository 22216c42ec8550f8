// Package motorlink speaks the binary command protocol of the motor
// controller firmware over a serial port and wraps it in a Car with the
// motion primitives the navigation layer needs.
package motorlink

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/gridrover/internal/monitoring"
	"github.com/banshee-data/gridrover/internal/timeutil"
)

var linkLog = monitoring.Component("motorlink")

// Default timings for a Link.
const (
	DefaultAckTimeout       = 2 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultSettleDelay      = 2 * time.Second
)

// maxDrain bounds how many stale bytes Connect discards before giving up on
// a port that never goes quiet.
const maxDrain = 64 * 1024

// Config controls link timings. Zero values select the defaults.
type Config struct {
	AckTimeout       time.Duration
	HandshakeTimeout time.Duration
	SettleDelay      time.Duration
	Clock            timeutil.Clock
}

func (c Config) withDefaults() Config {
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	return c
}

// Stats summarises link traffic for the debug endpoint.
type Stats struct {
	Connected   bool   `json:"connected"`
	Commands    int    `json:"commands"`
	Acks        int    `json:"acks"`
	Obstacles   int    `json:"obstacles"`
	Timeouts    int    `json:"timeouts"`
	LastCommand string `json:"last_command"`
	LastReply   string `json:"last_reply"`
}

// Link is a single connection to the motor controller. Only one command is
// in flight at a time.
type Link struct {
	port  SerialPorter
	cfg   Config
	clock timeutil.Clock

	commandMu sync.Mutex
	pending   []byte
	scratch   [64]byte
	closed    bool
	// stale is set when a reply did not arrive in time. Anything it later
	// sends is discarded before the next command goes out.
	stale bool

	statsMu sync.Mutex
	stats   Stats

	subscriberMu sync.Mutex
	subscribers  map[string]chan string
}

// NewLink wraps an already opened port. Call Connect before sending motion
// commands.
func NewLink(port SerialPorter, cfg Config) *Link {
	cfg = cfg.withDefaults()
	return &Link{
		port:        port,
		cfg:         cfg,
		clock:       cfg.Clock,
		subscribers: make(map[string]chan string),
	}
}

// Open wraps port and performs the connect handshake. The port is closed
// when the handshake fails.
func Open(ctx context.Context, port SerialPorter, cfg Config) (*Link, error) {
	l := NewLink(port, cfg)
	if err := l.Connect(ctx); err != nil {
		port.Close()
		return nil, err
	}
	return l, nil
}

// Connect discards stale input, waits for the controller to settle and
// exchanges the connect handshake.
func (l *Link) Connect(ctx context.Context) error {
	l.commandMu.Lock()
	defer l.commandMu.Unlock()
	if l.closed {
		return ErrClosed
	}

	if err := l.drain(); err != nil {
		return fmt.Errorf("failed to drain serial input: %w", err)
	}
	if err := timeutil.SleepContext(ctx, l.clock, l.cfg.SettleDelay); err != nil {
		return err
	}

	cmd := Command{Opcode: OpConnect, Raw: handshake}
	if err := l.write(cmd); err != nil {
		return err
	}

	deadline := l.clock.Now().Add(l.cfg.HandshakeTimeout)
	for {
		line, err := l.readLine(deadline)
		if errors.Is(err, ErrReadTimeout) {
			return fmt.Errorf("%w: no reply within %s", ErrHandshake, l.cfg.HandshakeTimeout)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] != "OK" {
			return fmt.Errorf("%w: unexpected reply %q", ErrHandshake, line)
		}
		break
	}

	l.statsMu.Lock()
	l.stats.Connected = true
	l.statsMu.Unlock()
	linkLog.Opsf("connected to motor controller")
	return nil
}

// drain throws away anything the controller printed before we connected.
func (l *Link) drain() error {
	l.pending = nil
	l.stale = false
	if r, ok := l.port.(InputResetter); ok {
		return r.ResetInputBuffer()
	}
	discarded := 0
	for discarded < maxDrain {
		n, err := l.port.Read(l.scratch[:])
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if n == 0 {
			break
		}
		discarded += n
	}
	if discarded > 0 {
		linkLog.Diagf("discarded %d stale bytes", discarded)
	}
	return nil
}

// SendMotion sends a command with four int16 arguments and waits for its
// acknowledgment.
func (l *Link) SendMotion(op Opcode, a1, a2, a3, a4 int16) error {
	_, err := l.exchange(MotionCommand(op, a1, a2, a3, a4))
	return err
}

// SendLong sends a command with two int32 arguments and waits for its
// acknowledgment.
func (l *Link) SendLong(op Opcode, a1, a2 int32) error {
	_, err := l.exchange(LongCommand(op, a1, a2))
	return err
}

// SendRaw sends op followed by suffix and waits for the acknowledgment.
func (l *Link) SendRaw(op Opcode, suffix []byte) error {
	_, err := l.exchange(Command{Opcode: op, Raw: suffix})
	return err
}

// QueryLine sends op and returns the text of its acknowledgment line.
func (l *Link) QueryLine(op Opcode) (string, error) {
	return l.exchange(Command{Opcode: op})
}

// QueryShort sends op and decodes the four int16 values of its reply.
func (l *Link) QueryShort(op Opcode) ([ShortArgs]int16, error) {
	var out [ShortArgs]int16
	reply, err := l.query(op)
	if err != nil {
		return out, err
	}
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(reply[i*2:]))
	}
	return out, nil
}

// QueryLong sends op and decodes the two int32 values of its reply.
func (l *Link) QueryLong(op Opcode) ([LongArgs]int32, error) {
	var out [LongArgs]int32
	reply, err := l.query(op)
	if err != nil {
		return out, err
	}
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(reply[i*4:]))
	}
	return out, nil
}

// Exchange sends an arbitrary command and returns its reply: the
// acknowledgment text, or a hex dump for binary queries.
func (l *Link) Exchange(cmd Command) (string, error) {
	if n := cmd.Opcode.ReplyLen(); n > 0 {
		reply, err := l.query(cmd.Opcode)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(reply), nil
	}
	return l.exchange(cmd)
}

// AwaitAck waits for the next acknowledgment line.
func (l *Link) AwaitAck() (AckResult, error) {
	l.commandMu.Lock()
	defer l.commandMu.Unlock()
	if l.closed {
		return AckResult{}, ErrClosed
	}
	return l.awaitAck()
}

func (l *Link) exchange(cmd Command) (string, error) {
	l.commandMu.Lock()
	defer l.commandMu.Unlock()
	if l.closed {
		return "", ErrClosed
	}
	if err := l.write(cmd); err != nil {
		return "", err
	}
	ack, err := l.awaitAck()
	if err != nil {
		return "", err
	}
	if ack.Kind != AckOK {
		linkLog.Diagf("%s answered %s %q", cmd, ack.Kind, ack.Text)
	}
	return ack.Text, ack.Err()
}

func (l *Link) query(op Opcode) ([]byte, error) {
	l.commandMu.Lock()
	defer l.commandMu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if err := l.write(Command{Opcode: op}); err != nil {
		return nil, err
	}
	deadline := l.clock.Now().Add(l.cfg.AckTimeout)
	reply := make([]byte, op.ReplyLen())
	for i := range reply {
		b, err := l.readByte(deadline)
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				l.stale = true
				l.count(func(s *Stats) { s.Timeouts++ })
			}
			return nil, fmt.Errorf("reading reply to %s: %w", op, err)
		}
		reply[i] = b
	}
	l.publish("< " + hex.EncodeToString(reply))
	return reply, nil
}

// awaitAck must be called with commandMu held.
func (l *Link) awaitAck() (AckResult, error) {
	deadline := l.clock.Now().Add(l.cfg.AckTimeout)
	for {
		line, err := l.readLine(deadline)
		if errors.Is(err, ErrReadTimeout) {
			l.stale = true
			l.count(func(s *Stats) { s.Timeouts++ })
			return AckResult{Kind: AckTimeout}, nil
		}
		if err != nil {
			return AckResult{}, err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		ack := classifyAck(line)
		l.publish("< " + ack.Text)
		l.count(func(s *Stats) {
			s.Acks++
			s.LastReply = ack.Text
			if ack.Kind == AckObstacle {
				s.Obstacles++
			}
		})
		return ack, nil
	}
}

// write sends the whole frame in a single Write call. A late reply to a
// timed-out command is drained first so it cannot be taken as this
// command's acknowledgment. One that arrives after the drain still can.
func (l *Link) write(cmd Command) error {
	if l.stale {
		if err := l.drain(); err != nil {
			return fmt.Errorf("failed to drain late reply: %w", err)
		}
	}
	frame := cmd.Encode()
	n, err := l.port.Write(frame)
	if err != nil {
		return fmt.Errorf("writing %s: %w", cmd, err)
	}
	if n != len(frame) {
		return ErrWriteFailed
	}
	linkLog.Tracef("sent %s", cmd)
	l.publish("> " + cmd.String())
	l.count(func(s *Stats) {
		s.Commands++
		s.LastCommand = cmd.String()
	})
	return nil
}

func (l *Link) readByte(deadline time.Time) (byte, error) {
	for {
		if len(l.pending) > 0 {
			b := l.pending[0]
			l.pending = l.pending[1:]
			return b, nil
		}
		n, err := l.port.Read(l.scratch[:])
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if n > 0 {
			l.pending = append(l.pending, l.scratch[:n]...)
			continue
		}
		if !l.clock.Now().Before(deadline) {
			return 0, ErrReadTimeout
		}
	}
}

// readLine returns the next line without its terminator.
func (l *Link) readLine(deadline time.Time) (string, error) {
	var sb strings.Builder
	for {
		b, err := l.readByte(deadline)
		if err != nil {
			return "", err
		}
		if b == '\n' {
			return strings.TrimRight(sb.String(), "\r"), nil
		}
		sb.WriteByte(b)
	}
}

func (l *Link) count(f func(*Stats)) {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	f(&l.stats)
}

// Stats returns a snapshot of the traffic counters.
func (l *Link) Stats() Stats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.stats
}

// Close sends the disconnect command without waiting for a reply and closes
// the port. It is safe to call more than once.
func (l *Link) Close() error {
	l.commandMu.Lock()
	defer l.commandMu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.write(Command{Opcode: OpDisconnect}); err != nil {
		linkLog.Diagf("disconnect: %v", err)
	}
	l.statsMu.Lock()
	l.stats.Connected = false
	l.statsMu.Unlock()

	l.subscriberMu.Lock()
	for id, ch := range l.subscribers {
		close(ch)
		delete(l.subscribers, id)
	}
	l.subscriberMu.Unlock()

	linkLog.Opsf("link closed")
	return l.port.Close()
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns a channel that receives a line for every frame sent and
// every reply received. The ID is used to unsubscribe.
func (l *Link) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	l.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (l *Link) Unsubscribe(id string) {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	if ch, ok := l.subscribers[id]; ok {
		close(ch)
		delete(l.subscribers, id)
	}
}

func (l *Link) publish(line string) {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	for _, ch := range l.subscribers {
		select {
		case ch <- line:
		default:
			// slow subscribers miss lines rather than stall the link
		}
	}
}
