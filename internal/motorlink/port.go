package motorlink

import "io"

// SerialPorter is the byte stream to the motor controller. Read returns
// (0, nil) when the read timeout expires without data, which is how
// go.bug.st/serial behaves once SetReadTimeout is set and how ScriptedPort
// behaves when its reply queue is empty.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// InputResetter is implemented by ports that can discard buffered input.
// Connect uses it before the handshake when available.
type InputResetter interface {
	ResetInputBuffer() error
}
