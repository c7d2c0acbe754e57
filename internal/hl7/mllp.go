package hl7

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	StartBlock     = 0x0B
	EndBlock       = 0x1C
	CarriageReturn = 0x0D

	DefaultMaxFrameBytes = 1 << 20
)

var ErrFrameTooLarge = errors.New("mllp frame exceeds maximum size")

// Frame wraps payload as <VT>payload<FS><CR>.
func Frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+3)
	out = append(out, StartBlock)
	out = append(out, payload...)
	return append(out, EndBlock, CarriageReturn)
}

// Unframe extracts the first complete frame in data and returns the bytes
// after it.
func Unframe(data []byte) (payload, rest []byte, found bool) {
	start := bytes.IndexByte(data, StartBlock)
	if start < 0 {
		return nil, data, false
	}
	end := bytes.Index(data[start+1:], []byte{EndBlock, CarriageReturn})
	if end < 0 {
		return nil, data, false
	}
	end += start + 1
	return data[start+1 : end], data[end+2:], true
}

// ReadFrame reads one framed message from r. Bytes before the start block
// are discarded. maxBytes <= 0 means DefaultMaxFrameBytes.
func ReadFrame(r *bufio.Reader, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == StartBlock {
			break
		}
	}

	var payload []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if b == EndBlock {
			next, err := r.ReadByte()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return payload, nil
				}
				return nil, err
			}
			if next == CarriageReturn {
				return payload, nil
			}
			payload = append(payload, b, next)
		} else {
			payload = append(payload, b)
		}
		if len(payload) > maxBytes {
			return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, maxBytes)
		}
	}
}

// WriteFrame frames payload and writes it to w.
func WriteFrame(w io.Writer, payload []byte) error {
	_, err := w.Write(Frame(payload))
	return err
}
