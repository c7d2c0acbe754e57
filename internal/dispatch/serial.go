package dispatch

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"labflow/internal/config"
	"labflow/internal/hl7"
)

// OpenFunc opens a serial port. serial.Open in production.
type OpenFunc func(portName string, mode *serial.Mode) (serial.Port, error)

// SerialTransport talks MLLP-framed HL7 over an RS-232 line. A port serves
// one exchange at a time.
type SerialTransport struct {
	cfg             config.SerialConfig
	maxMessageBytes int
	open            OpenFunc
	mu              sync.Mutex
}

func NewSerialTransport(cfg config.SerialConfig, maxMessageBytes int) *SerialTransport {
	return &SerialTransport{cfg: cfg, maxMessageBytes: maxMessageBytes, open: serial.Open}
}

// WithOpener replaces the port opener.
func (t *SerialTransport) WithOpener(open OpenFunc) *SerialTransport {
	t.open = open
	return t
}

func (t *SerialTransport) Mode() *serial.Mode {
	mode := &serial.Mode{
		BaudRate: t.cfg.BaudRate,
		DataBits: t.cfg.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if mode.BaudRate == 0 {
		mode.BaudRate = 9600
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}
	switch strings.ToLower(t.cfg.Parity) {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	}
	if t.cfg.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	return mode
}

func (t *SerialTransport) Send(ctx context.Context, instrumentRef, message string, timeout time.Duration) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	port, err := t.open(t.cfg.Port, t.Mode())
	if err != nil {
		return "", transportError(instrumentRef, "open", err)
	}
	defer port.Close()

	if err := port.ResetInputBuffer(); err != nil {
		return "", transportError(instrumentRef, "reset", err)
	}
	if err := hl7.WriteFrame(port, []byte(message)); err != nil {
		return "", transportError(instrumentRef, "write", err)
	}

	reader := &deadlineReader{ctx: ctx, port: port, deadline: deadline}
	reply, err := hl7.ReadFrame(bufio.NewReader(reader), t.maxMessageBytes)
	if err != nil {
		return "", transportError(instrumentRef, "read", err)
	}
	if strings.TrimSpace(string(reply)) == "" {
		return "", transportError(instrumentRef, "read", ErrEmptyReply)
	}
	return string(reply), nil
}

// deadlineReader turns the port's per-read timeout into an overall
// deadline. A serial read that times out returns zero bytes and no error.
type deadlineReader struct {
	ctx      context.Context
	port     serial.Port
	deadline time.Time
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	for {
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}
		remaining := time.Until(r.deadline)
		if remaining <= 0 {
			return 0, fmt.Errorf("reading reply: %w", os.ErrDeadlineExceeded)
		}
		if err := r.port.SetReadTimeout(remaining); err != nil {
			return 0, err
		}
		n, err := r.port.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
	}
}
