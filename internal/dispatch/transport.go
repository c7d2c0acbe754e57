package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	apperrors "labflow/pkg/errors"

	"labflow/internal/hl7"
)

// Transport delivers one order message to an instrument and returns its
// reply. Implementations must give up once timeout has elapsed.
type Transport interface {
	Send(ctx context.Context, instrumentRef, message string, timeout time.Duration) (string, error)
}

// TransportError is any failure to obtain a reply: connection errors,
// timeouts, empty replies and open circuit breakers.
type TransportError struct {
	Instrument string
	Op         string
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s to instrument %s failed: %v", e.Op, e.Instrument, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) IsRetryable() bool {
	return true
}

// AsAppError maps the failure onto the shared error taxonomy.
func (e *TransportError) AsAppError() *apperrors.Error {
	return apperrors.Wrap(e, apperrors.ErrTransport).WithDetail("instrument", e.Instrument)
}

var ErrEmptyReply = errors.New("instrument returned an empty reply")

func transportError(instrument, op string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Instrument: instrument, Op: op, Err: err}
}

// MLLPTransport opens one TCP connection per order and reads a single
// framed reply.
type MLLPTransport struct {
	Address         string
	MaxMessageBytes int
	dialer          net.Dialer
}

func NewMLLPTransport(address string, maxMessageBytes int) *MLLPTransport {
	return &MLLPTransport{Address: address, MaxMessageBytes: maxMessageBytes}
}

func (t *MLLPTransport) Send(ctx context.Context, instrumentRef, message string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := t.dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return "", transportError(instrumentRef, "dial", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return "", transportError(instrumentRef, "deadline", err)
		}
	}

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := hl7.WriteFrame(conn, []byte(message)); err != nil {
		return "", transportError(instrumentRef, "write", err)
	}

	reply, err := hl7.ReadFrame(bufio.NewReader(conn), t.MaxMessageBytes)
	if err != nil {
		return "", transportError(instrumentRef, "read", err)
	}
	if strings.TrimSpace(string(reply)) == "" {
		return "", transportError(instrumentRef, "read", ErrEmptyReply)
	}
	return string(reply), nil
}
