package htcp

import "github.com/tenzoki/htcp/internal/wire"

// Value is the wire-level tagged union (spec section 3): null, bool,
// int64, float64, string, bytes, sequence, mapping, or record. Handlers
// that want to build or inspect a heterogeneous result use this directly
// instead of a Go struct.
type Value = wire.Value

// Map is an ordered string-keyed collection of Values, used for both
// record fields and plain mappings.
type Map = wire.Map

// Record is a named, ordered field collection — the wire encoding of a
// user-defined struct.
type Record = wire.Record

// Null, BoolValue, IntValue, FloatValue, StringValue, BytesValue,
// SeqValue, MapValue, and NewRecord construct Values of each tag.
var (
	Null        = wire.Null
	BoolValue   = wire.BoolValue
	IntValue    = wire.IntValue
	FloatValue  = wire.FloatValue
	StringValue = wire.StringValue
	BytesValue  = wire.BytesValue
	SeqValue    = wire.SeqValue
	MapValue    = wire.MapValue
	NewRecord   = wire.NewRecord
)

// ErrorKind is one of the wire-visible error kinds from spec section 7.
type ErrorKind = wire.ErrorKind

// The error kinds a handler may return via NewError, or that a client
// call/subscription may observe.
const (
	ErrProtocol        = wire.ErrProtocol
	ErrUnknownEndpoint = wire.ErrUnknownEndpoint
	ErrBadRequest      = wire.ErrBadRequest
	ErrHandlerError    = wire.ErrHandlerError
	ErrEncoding        = wire.ErrEncoding
	ErrCancelled       = wire.ErrCancelled
	ErrBackpressure    = wire.ErrBackpressure
	ErrTransport       = wire.ErrTransport
)

// NewError builds a wire-visible error a handler can return to control
// exactly which ERROR kind/message the caller sees.
func NewError(kind ErrorKind, message string) error {
	return wire.NewError(kind, message)
}

// AsError extracts a *wire.Error from err, the way errors.As would.
func AsError(err error) (*wire.Error, bool) {
	return wire.AsError(err)
}
