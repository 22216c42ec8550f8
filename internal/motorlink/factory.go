package motorlink

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenSerialPort opens a real serial port at path and applies the read
// timeout so that reads return instead of blocking forever.
func OpenSerialPort(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial %s: %w", path, err)
	}

	if err := port.SetReadTimeout(opts.ReadTimeoutDuration()); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
	}

	return port, nil
}
