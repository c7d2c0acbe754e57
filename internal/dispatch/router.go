package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"labflow/internal/config"
	"labflow/internal/constants"
)

var ErrUnknownInstrument = errors.New("unknown instrument")

// Router picks the transport configured for an instrument. Instrument
// references are case-insensitive.
type Router struct {
	transports map[string]Transport
	endpoints  map[string]config.InstrumentConfig
}

func NewRouter() *Router {
	return &Router{
		transports: make(map[string]Transport),
		endpoints:  make(map[string]config.InstrumentConfig),
	}
}

// NewRouterFromConfig builds one transport per configured instrument.
func NewRouterFromConfig(cfg config.DispatchConfig, maxMessageBytes int) (*Router, error) {
	r := NewRouter()
	for ref, instrument := range cfg.Instruments {
		var t Transport
		switch strings.ToLower(instrument.Transport) {
		case "", constants.TransportMLLP:
			t = NewMLLPTransport(instrument.Address, maxMessageBytes)
		case constants.TransportSerial:
			t = NewSerialTransport(instrument.Serial, maxMessageBytes)
		default:
			return nil, fmt.Errorf("instrument %s: unknown transport %q", ref, instrument.Transport)
		}
		r.Register(ref, instrument, t)
	}
	return r, nil
}

func (r *Router) Register(ref string, instrument config.InstrumentConfig, t Transport) {
	key := strings.ToLower(ref)
	r.transports[key] = t
	r.endpoints[key] = instrument
}

// Endpoint returns the configuration registered for ref.
func (r *Router) Endpoint(ref string) (config.InstrumentConfig, bool) {
	instrument, ok := r.endpoints[strings.ToLower(ref)]
	return instrument, ok
}

func (r *Router) Send(ctx context.Context, instrumentRef, message string, timeout time.Duration) (string, error) {
	t, ok := r.transports[strings.ToLower(instrumentRef)]
	if !ok {
		return "", transportError(instrumentRef, "route", ErrUnknownInstrument)
	}
	return t.Send(ctx, instrumentRef, message, timeout)
}
