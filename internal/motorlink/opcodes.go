package motorlink

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Opcode is the single ASCII byte that starts every command frame.
type Opcode byte

// Opcodes understood by the motor-controller firmware.
const (
	OpConnect       Opcode = 'A' // handshake, followed by "22", answered by "OK"
	OpDisconnect    Opcode = 'a'
	OpResetEncoders Opcode = 'B'
	OpDrive         Opcode = 'C' // left, right speed
	OpDriveStaged   Opcode = 'D' // left, right speed, ramp
	OpServo         Opcode = 'G' // sensor servo angle
	OpEmergencyStop Opcode = 'I' // followed by '0' (clear) or '1' (set)
	OpMoveCounts    Opcode = 'M' // left, right encoder counts (int32)
	OpReadEncoders  Opcode = 'N' // replies two int32
	OpReadStatus    Opcode = 'R' // replies timer, timer2, ir, spare as int16
	OpReadSpeeds    Opcode = 'T' // replies left, right, spare, spare as int16
	OpReadDistance  Opcode = 's' // replies a line with the distance in cm
)

// Argument widths.
const (
	ShortArgs = 4
	LongArgs  = 2
)

// handshake is the payload sent after OpConnect.
var handshake = []byte("22")

func (op Opcode) String() string {
	return fmt.Sprintf("%q", rune(op))
}

// PayloadLen returns the number of bytes that follow op on the wire.
func (op Opcode) PayloadLen() int {
	switch op {
	case OpConnect:
		return len(handshake)
	case OpResetEncoders, OpDrive, OpDriveStaged, OpServo:
		return ShortArgs * 2
	case OpMoveCounts:
		return LongArgs * 4
	case OpEmergencyStop:
		return 1
	}
	return 0
}

// ReplyLen returns the size of the binary reply to a query opcode, or zero
// when the opcode is answered with an acknowledgment line.
func (op Opcode) ReplyLen() int {
	switch op {
	case OpReadStatus, OpReadSpeeds:
		return ShortArgs * 2
	case OpReadEncoders:
		return LongArgs * 4
	}
	return 0
}

// Command is one frame sent to the motor controller. Short commands carry
// int16 arguments, long commands int32 arguments and raw commands an opaque
// suffix.
type Command struct {
	Opcode Opcode
	Short  []int16
	Long   []int32
	Raw    []byte
}

// MotionCommand builds a command with four int16 arguments.
func MotionCommand(op Opcode, a1, a2, a3, a4 int16) Command {
	return Command{Opcode: op, Short: []int16{a1, a2, a3, a4}}
}

// LongCommand builds a command with two int32 arguments.
func LongCommand(op Opcode, a1, a2 int32) Command {
	return Command{Opcode: op, Long: []int32{a1, a2}}
}

// Encode returns the wire form: the opcode followed by the little-endian
// arguments.
func (c Command) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(c.Opcode))
	switch {
	case c.Short != nil:
		_ = binary.Write(&buf, binary.LittleEndian, c.Short)
	case c.Long != nil:
		_ = binary.Write(&buf, binary.LittleEndian, c.Long)
	default:
		buf.Write(c.Raw)
	}
	return buf.Bytes()
}

func (c Command) String() string {
	switch {
	case c.Short != nil:
		return fmt.Sprintf("%c%v", c.Opcode, c.Short)
	case c.Long != nil:
		return fmt.Sprintf("%c%v", c.Opcode, c.Long)
	}
	return fmt.Sprintf("%c%s", c.Opcode, c.Raw)
}

// DecodeCommand parses one frame from the start of b and returns it with the
// number of bytes consumed. It reports false when b does not yet hold a
// whole frame.
func DecodeCommand(b []byte) (Command, int, bool) {
	if len(b) == 0 {
		return Command{}, 0, false
	}
	op := Opcode(b[0])
	n := 1 + op.PayloadLen()
	if len(b) < n {
		return Command{}, 0, false
	}
	payload := b[1:n]
	cmd := Command{Opcode: op}
	switch op {
	case OpResetEncoders, OpDrive, OpDriveStaged, OpServo:
		cmd.Short = make([]int16, ShortArgs)
		_ = binary.Read(bytes.NewReader(payload), binary.LittleEndian, cmd.Short)
	case OpMoveCounts:
		cmd.Long = make([]int32, LongArgs)
		_ = binary.Read(bytes.NewReader(payload), binary.LittleEndian, cmd.Long)
	default:
		cmd.Raw = append([]byte(nil), payload...)
	}
	return cmd, n, true
}
