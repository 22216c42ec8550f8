package motorlink

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

// PortOptions describes the serial connection parameters used when opening
// the link to the motor controller.
type PortOptions struct {
	BaudRate    int    `json:"baud_rate"`
	DataBits    int    `json:"data_bits"`
	StopBits    int    `json:"stop_bits"`
	Parity      string `json:"parity"`
	ReadTimeout string `json:"read_timeout"` // duration string like "100ms"
}

// DefaultBaudRate matches the firmware's SERIAL_BAUD.
const DefaultBaudRate = 115200

// DefaultReadTimeout matches the firmware's SERIAL_TIMEOUT.
const DefaultReadTimeout = 100 * time.Millisecond

// Normalise validates the options and applies defaults for any unset values.
func (o PortOptions) Normalise() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	if parity == "" {
		parity = "N"
	}

	switch parity {
	case "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	opts.Parity = parity

	if opts.ReadTimeout == "" {
		opts.ReadTimeout = DefaultReadTimeout.String()
	}
	d, err := time.ParseDuration(opts.ReadTimeout)
	if err != nil {
		return opts, fmt.Errorf("invalid read timeout %q: %w", opts.ReadTimeout, err)
	}
	if d <= 0 {
		return opts, fmt.Errorf("invalid read timeout %q: must be positive", opts.ReadTimeout)
	}

	return opts, nil
}

// ReadTimeoutDuration returns the normalized read timeout.
func (o PortOptions) ReadTimeoutDuration() time.Duration {
	opts, err := o.Normalise()
	if err != nil {
		return DefaultReadTimeout
	}
	d, _ := time.ParseDuration(opts.ReadTimeout)
	return d
}

// SerialMode converts the port options into the serial.Mode structure required by
// go.bug.st/serial when opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalise()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}

	switch opts.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", opts.Parity)
	}

	return mode, nil
}
