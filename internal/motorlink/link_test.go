package motorlink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gridrover/internal/timeutil"
)

func newTestLink(t *testing.T) (*Link, *ScriptedPort, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	port := NewScriptedPort(clock)
	l, err := Open(context.Background(), port, Config{Clock: clock})
	require.NoError(t, err)
	port.ResetCommands()
	return l, port, clock
}

func TestCommand_Encode(t *testing.T) {
	got := MotionCommand(OpDrive, 100, -100, 0, 1).Encode()
	want := []byte{'C', 100, 0, 0x9c, 0xff, 0, 0, 1, 0}
	assert.Equal(t, want, got)

	got = LongCommand(OpMoveCounts, 1, -2).Encode()
	want = []byte{'M', 1, 0, 0, 0, 0xfe, 0xff, 0xff, 0xff}
	assert.Equal(t, want, got)

	assert.Equal(t, []byte("I1"), Command{Opcode: OpEmergencyStop, Raw: []byte("1")}.Encode())
}

func TestDecodeCommand(t *testing.T) {
	frame := MotionCommand(OpServo, 90, 0, 0, 0).Encode()

	_, _, ok := DecodeCommand(frame[:5])
	assert.False(t, ok, "partial frame")

	cmd, n, ok := DecodeCommand(append(frame, 's'))
	require.True(t, ok)
	assert.Equal(t, len(frame), n)
	assert.Equal(t, MotionCommand(OpServo, 90, 0, 0, 0), cmd)

	cmd, n, ok = DecodeCommand([]byte("s"))
	require.True(t, ok)
	assert.Equal(t, 1, n)
	assert.Equal(t, OpReadDistance, cmd.Opcode)
}

func TestOpen_DrainsStaleInputAndHandshakes(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	port := NewScriptedPort(clock)
	port.Preload("boot banner\r\nOB\r\n")

	l, err := Open(context.Background(), port, Config{Clock: clock})
	require.NoError(t, err)
	assert.True(t, l.Stats().Connected)

	cmds := port.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, Command{Opcode: OpConnect, Raw: []byte("22")}, cmds[0])
	assert.Equal(t, []time.Duration{DefaultSettleDelay}, clock.Sleeps())

	// the stale OB line must not be taken as the reply to the next command
	require.NoError(t, l.SendMotion(OpDrive, 10, 10, 0, 0))
}

func TestOpen_HandshakeRejected(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	port := NewScriptedPort(clock)
	port.Queue(OpConnect, "ERR busy\r\n")

	_, err := Open(context.Background(), port, Config{Clock: clock})
	assert.ErrorIs(t, err, ErrHandshake)
	assert.True(t, port.Closed())
}

func TestOpen_HandshakeTimeout(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	port := NewScriptedPort(clock)
	port.SetSilent(true)

	_, err := Open(context.Background(), port, Config{Clock: clock, SettleDelay: time.Second})
	assert.ErrorIs(t, err, ErrHandshake)
}

func TestOpen_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Open(ctx, NewScriptedPort(nil), Config{Clock: timeutil.NewMockClock(time.Unix(0, 0))})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSendMotion_Acknowledged(t *testing.T) {
	l, port, _ := newTestLink(t)

	require.NoError(t, l.SendMotion(OpDrive, 120, 80, 0, 0))
	if diff := cmp.Diff([]Command{MotionCommand(OpDrive, 120, 80, 0, 0)}, port.Commands()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}

	s := l.Stats()
	assert.Equal(t, 2, s.Commands, "connect plus drive")
	assert.Equal(t, 1, s.Acks)
	assert.Equal(t, "OK", s.LastReply)
}

func TestSendMotion_SkipsBlankLines(t *testing.T) {
	l, port, _ := newTestLink(t)
	port.Queue(OpDrive, "\r\n  \r\nOK\r\n")
	assert.NoError(t, l.SendMotion(OpDrive, 1, 1, 0, 0))
}

func TestSendMotion_Obstacle(t *testing.T) {
	l, port, _ := newTestLink(t)
	port.Queue(OpDrive, "OB 12\r\n")

	err := l.SendMotion(OpDrive, 200, 200, 0, 0)
	require.Error(t, err)
	assert.True(t, IsObstacle(err))

	var oe *ObstacleError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "OB 12", oe.Line)
	assert.Equal(t, 1, l.Stats().Obstacles)

	// the next command is unaffected
	assert.NoError(t, l.SendMotion(OpDrive, 0, 0, 0, 0))
}

func TestSendMotion_AckTimeout(t *testing.T) {
	l, port, clock := newTestLink(t)
	port.SetSilent(true)

	start := clock.Now()
	err := l.SendMotion(OpDrive, 1, 1, 0, 0)
	assert.ErrorIs(t, err, ErrAckTimeout)
	assert.False(t, IsObstacle(err))
	assert.GreaterOrEqual(t, clock.Since(start), DefaultAckTimeout)
	assert.Equal(t, 1, l.Stats().Timeouts)
}

func TestSendMotion_LateReplyIsNotTheNextAck(t *testing.T) {
	l, port, _ := newTestLink(t)
	port.SetSilent(true)
	require.ErrorIs(t, l.SendMotion(OpDrive, 200, 200, 0, 0), ErrAckTimeout)

	// the controller answers the timed-out drive after all
	port.Preload("OB\r\n")
	port.SetSilent(false)

	assert.NoError(t, l.SendMotion(OpDrive, 0, 0, 0, 0))
	assert.Equal(t, 0, l.Stats().Obstacles)
	assert.Equal(t, "OK", l.Stats().LastReply)

	// with no timeout pending nothing is drained
	port.Queue(OpDrive, "OB\r\n")
	assert.True(t, IsObstacle(l.SendMotion(OpDrive, 1, 1, 0, 0)))
}

func TestQuery_TimeoutDrainsLateBytes(t *testing.T) {
	l, port, _ := newTestLink(t)
	port.SetSilent(true)
	_, err := l.QueryShort(OpReadStatus)
	require.ErrorIs(t, err, ErrReadTimeout)

	port.Preload("\x01\x00\x02")
	port.SetSilent(false)
	port.Status = [ShortArgs]int16{7, 0, 0, 0}

	got, err := l.QueryShort(OpReadStatus)
	require.NoError(t, err)
	assert.Equal(t, [ShortArgs]int16{7, 0, 0, 0}, got)
}

func TestAwaitAck(t *testing.T) {
	l, port, _ := newTestLink(t)
	port.Preload("OB\r\n")

	ack, err := l.AwaitAck()
	require.NoError(t, err)
	assert.Equal(t, AckObstacle, ack.Kind)
	assert.False(t, ack.Ok())

	ack, err = l.AwaitAck()
	require.NoError(t, err)
	assert.Equal(t, AckTimeout, ack.Kind)
	assert.ErrorIs(t, ack.Err(), ErrAckTimeout)
}

func TestSendLong(t *testing.T) {
	l, port, _ := newTestLink(t)
	require.NoError(t, l.SendLong(OpMoveCounts, 500, -500))
	assert.Equal(t, []Command{LongCommand(OpMoveCounts, 500, -500)}, port.Commands())
}

func TestQueries(t *testing.T) {
	l, port, _ := newTestLink(t)
	port.Status = [ShortArgs]int16{11, 22, 1, 0}
	port.Encoders = [LongArgs]int32{70000, -3}

	status, err := l.QueryShort(OpReadStatus)
	require.NoError(t, err)
	assert.Equal(t, [ShortArgs]int16{11, 22, 1, 0}, status)

	enc, err := l.QueryLong(OpReadEncoders)
	require.NoError(t, err)
	assert.Equal(t, [LongArgs]int32{70000, -3}, enc)

	port.Queue(OpReadSpeeds, "\x01")
	_, err = l.QueryShort(OpReadSpeeds)
	assert.ErrorIs(t, err, ErrReadTimeout)
}

func TestExchange(t *testing.T) {
	l, port, _ := newTestLink(t)
	port.Speeds = [ShortArgs]int16{1, 2, 0, 0}

	reply, err := l.Exchange(Command{Opcode: OpReadSpeeds})
	require.NoError(t, err)
	assert.Equal(t, "0100020000000000", reply)

	reply, err = l.Exchange(MotionCommand(OpDrive, 0, 0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, "OK", reply)
}

func TestWriteErrors(t *testing.T) {
	l, port, _ := newTestLink(t)
	port.WriteError = errors.New("unplugged")
	assert.Error(t, l.SendMotion(OpDrive, 1, 1, 0, 0))
}

func TestClose(t *testing.T) {
	l, port, _ := newTestLink(t)
	_, ch := l.Subscribe()

	require.NoError(t, l.Close())
	assert.True(t, port.Closed())
	assert.Equal(t, "a", port.Opcodes())
	assert.False(t, l.Stats().Connected)

	// subscriber channels are closed once buffered lines are consumed
	for range ch {
	}

	assert.NoError(t, l.Close())
	assert.ErrorIs(t, l.SendMotion(OpDrive, 0, 0, 0, 0), ErrClosed)
	_, err := l.QueryShort(OpReadStatus)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubscribe(t *testing.T) {
	l, _, _ := newTestLink(t)
	id, ch := l.Subscribe()
	defer l.Unsubscribe(id)

	require.NoError(t, l.SendMotion(OpDrive, 5, 5, 0, 0))
	assert.Equal(t, "> C[5 5 0 0]", <-ch)
	assert.Equal(t, "< OK", <-ch)
}
