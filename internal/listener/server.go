// Package listener accepts MLLP connections from instruments and answers
// every framed message with an HL7 acknowledgment.
package listener

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"labflow/internal/config"
	"labflow/internal/constants"
	"labflow/internal/hl7"
	"labflow/internal/ingestion"
	"labflow/internal/logger"
	"labflow/pkg/logging"
	"labflow/pkg/metrics"
)

type Processor interface {
	ProcessInbound(ctx context.Context, raw string) (ingestion.Outcome, error)
}

type Server struct {
	cfg       config.ListenerConfig
	processor Processor
	logger    logger.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

func NewServer(cfg config.ListenerConfig, processor Processor, log logger.Logger) *Server {
	return &Server{
		cfg:       cfg,
		processor: processor,
		logger:    log,
		conns:     make(map[net.Conn]struct{}),
	}
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections until ctx is done, then closes every open
// connection and waits for their handlers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
		s.closeConns()
	})
	defer stop()

	s.logger.InfowCtx(ctx, "MLLP listener started", "address", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.logger.ErrorwCtx(ctx, "Failed to accept connection", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handle(ctx, conn)
		}()
	}
}

// Addr is the bound address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	metrics.ListenerConnectionsActive.Inc()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
	metrics.ListenerConnectionsActive.Dec()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

func (s *Server) readTimeout() time.Duration {
	if s.cfg.ReadTimeout > 0 {
		return s.cfg.ReadTimeout
	}
	return constants.DefaultListenerReadTimeout
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	connCtx := logging.WithServiceName(ctx, "mllp-listener")
	reader := bufio.NewReader(conn)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout())); err != nil {
			return
		}
		payload, err := hl7.ReadFrame(reader, s.cfg.MaxMessageBytes)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.WarnwCtx(connCtx, "Closing MLLP connection", "remote", remote, "error", err)
			}
			return
		}

		ack := s.process(connCtx, string(payload))

		if s.cfg.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
		if err := hl7.WriteFrame(conn, []byte(ack)); err != nil {
			s.logger.WarnwCtx(connCtx, "Failed to write acknowledgment", "remote", remote, "error", err)
			return
		}
	}
}

func (s *Server) process(ctx context.Context, raw string) string {
	incoming, _ := hl7.Tokenize(raw)

	outcome, err := s.processor.ProcessInbound(ctx, raw)
	code, text := AckFor(outcome, err)
	metrics.ListenerMessagesTotal.WithLabelValues(string(code)).Inc()

	acknowledged := outcome.MessageID
	if incoming != nil && incoming.ControlID() != "" {
		acknowledged = incoming.ControlID()
	}

	ack := hl7.BuildAck(incoming, code, acknowledged, uuid.New().String(), text, time.Now().UTC())
	return ack.Encode()
}

// AckFor maps an ingestion result onto an acknowledgment code. Accepted and
// duplicate messages are AA, quarantined ones AE, everything else AR.
func AckFor(outcome ingestion.Outcome, err error) (hl7.AckCode, string) {
	if err != nil {
		return hl7.AckReject, "internal error"
	}
	switch outcome.Status {
	case ingestion.OutcomeSucceeded, ingestion.OutcomeSkipped:
		return hl7.AckAccept, ""
	case ingestion.OutcomeQuarantined:
		return hl7.AckError, outcome.QuarantineReason
	case ingestion.OutcomeFailed:
		return hl7.AckReject, outcome.Error
	}
	return hl7.AckReject, ""
}
