package motorlink

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/gridrover/internal/timeutil"
)

// ScriptedPort implements SerialPorter by emulating the motor-controller
// firmware. Every written frame is decoded and recorded; motion commands are
// answered with "OK", queries from the register fields, and distance
// requests from a script.
//
// When the host reads with nothing buffered, the attached MockClock is
// advanced by ReadTimeout, so acknowledgment deadlines expire in tests
// without real waiting.
type ScriptedPort struct {
	mu sync.Mutex

	clock       *timeutil.MockClock
	ReadTimeout time.Duration

	in       []byte
	out      bytes.Buffer
	commands []Command
	replies  map[Opcode][][]byte
	silent   bool
	closed   bool

	// WriteError is returned by the next Write call if set
	WriteError error

	// Firmware registers returned by the query opcodes.
	Status   [ShortArgs]int16
	Speeds   [ShortArgs]int16
	Encoders [LongArgs]int32

	distances    []float64
	distanceNext int
}

// NewScriptedPort returns an emulated controller. clock may be nil when the
// test does not depend on timeouts.
func NewScriptedPort(clock *timeutil.MockClock) *ScriptedPort {
	return &ScriptedPort{
		clock:       clock,
		ReadTimeout: DefaultReadTimeout,
		replies:     make(map[Opcode][][]byte),
	}
}

// Read returns buffered reply bytes, or (0, nil) after advancing the clock
// when nothing is buffered.
func (p *ScriptedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("serial port closed")
	}
	if p.out.Len() == 0 {
		if p.clock != nil {
			p.clock.Advance(p.ReadTimeout)
		}
		return 0, nil
	}
	return p.out.Read(b)
}

// Write decodes complete frames and queues the firmware's replies.
func (p *ScriptedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("serial port closed")
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}
	p.in = append(p.in, b...)
	for {
		cmd, n, ok := DecodeCommand(p.in)
		if !ok {
			break
		}
		p.in = p.in[n:]
		p.commands = append(p.commands, cmd)
		p.respond(cmd)
	}
	return len(b), nil
}

func (p *ScriptedPort) respond(cmd Command) {
	if p.silent || cmd.Opcode == OpDisconnect {
		return
	}
	if q := p.replies[cmd.Opcode]; len(q) > 0 {
		p.out.Write(q[0])
		p.replies[cmd.Opcode] = q[1:]
		return
	}
	switch cmd.Opcode {
	case OpReadStatus:
		_ = binary.Write(&p.out, binary.LittleEndian, p.Status)
	case OpReadSpeeds:
		_ = binary.Write(&p.out, binary.LittleEndian, p.Speeds)
	case OpReadEncoders:
		_ = binary.Write(&p.out, binary.LittleEndian, p.Encoders)
	case OpReadDistance:
		cm := 0.0
		if p.distanceNext < len(p.distances) {
			cm = p.distances[p.distanceNext]
			p.distanceNext++
		}
		fmt.Fprintf(&p.out, "%.0f\r\n", cm)
	case OpResetEncoders:
		p.Encoders = [LongArgs]int32{}
		p.out.WriteString("OK\r\n")
	default:
		p.out.WriteString("OK\r\n")
	}
}

// Close marks the port as closed.
func (p *ScriptedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *ScriptedPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Queue sets the reply to the next command with opcode op, overriding the
// default once. reply is written verbatim.
func (p *ScriptedPort) Queue(op Opcode, reply string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies[op] = append(p.replies[op], []byte(reply))
}

// Preload places bytes in the receive buffer as if the controller had sent
// them before the host connected.
func (p *ScriptedPort) Preload(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out.WriteString(data)
}

// SetSilent stops (or resumes) all replies.
func (p *ScriptedPort) SetSilent(silent bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silent = silent
}

// SetDistances scripts the answers to distance requests in cm. Once
// exhausted the port reports 0, the firmware's timeout value.
func (p *ScriptedPort) SetDistances(cm ...float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.distances = append([]float64(nil), cm...)
	p.distanceNext = 0
}

// Commands returns every decoded frame in order.
func (p *ScriptedPort) Commands() []Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Command(nil), p.commands...)
}

// CommandsOf returns the decoded frames with opcode op.
func (p *ScriptedPort) CommandsOf(op Opcode) []Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Command
	for _, c := range p.commands {
		if c.Opcode == op {
			out = append(out, c)
		}
	}
	return out
}

// Opcodes returns the opcode sequence as a string, e.g. "ACCa".
func (p *ScriptedPort) Opcodes() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := make([]byte, len(p.commands))
	for i, c := range p.commands {
		b[i] = byte(c.Opcode)
	}
	return string(b)
}

// ResetCommands forgets recorded frames.
func (p *ScriptedPort) ResetCommands() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = nil
}
