// Package registry implements the HTCP handler registry and reflector:
// endpoints (transactions and subscriptions) registered by a string code,
// with parameter descriptors built once at registration time by reflecting
// over the handler's declared parameter struct type.
//
// Spec section 9's DESIGN NOTES call this out explicitly: a dynamic
// language discovers parameter names from the running function's own
// signature; a statically-typed rewrite instead hand-writes (or, as here,
// reflects over) an explicit per-handler descriptor built once at
// registration time. That is exactly what Parameter and reflectParameters
// below do.
package registry

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"sync"

	"github.com/tenzoki/htcp/internal/wire"
)

// EndpointKind distinguishes transactions (request/response) from
// subscriptions (server-pushed sequences). The two kinds share nothing but
// a code namespace split — spec section 3 requires a code be unique only
// within its own kind.
type EndpointKind int

const (
	KindTransaction EndpointKind = iota
	KindSubscription
)

func (k EndpointKind) String() string {
	if k == KindSubscription {
		return "subscription"
	}
	return "transaction"
}

// Parameter describes one declared parameter of an endpoint: its wire
// name, and its default if any.
type Parameter struct {
	Name       string
	HasDefault bool
	Default    wire.Value
}

// TransactionFunc is the type-erased form every generic
// RegisterTransaction[P, R] call is reduced to, so the dispatcher can
// invoke any registered transaction uniformly.
type TransactionFunc func(ctx context.Context, args wire.Map) (wire.Value, error)

// SubscriptionFunc is the type-erased form every generic
// RegisterSubscription[P, I] call is reduced to. emit is called once per
// produced item; SubscriptionFunc returns when the handler is done
// (exhausted, failed, or observed ctx cancellation).
type SubscriptionFunc func(ctx context.Context, args wire.Map, emit func(wire.Value) error) error

// Endpoint is one registered (code, kind, parameters, handler) tuple.
type Endpoint struct {
	Code         string
	Kind         EndpointKind
	Parameters   []Parameter
	Transaction  TransactionFunc
	Subscription SubscriptionFunc
}

// Registry stores endpoints by code, scoped per kind. It is built up
// during startup registration and treated as read-only afterward — spec
// section 5 requires the endpoint registry be immutable once the server
// is serving connections. The write lock is only ever taken for
// registration; lookups on the request path take only the read lock.
type Registry struct {
	mu            sync.RWMutex
	transactions  map[string]*Endpoint
	subscriptions map[string]*Endpoint
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		transactions:  make(map[string]*Endpoint),
		subscriptions: make(map[string]*Endpoint),
	}
}

func (r *Registry) addTransaction(ep *Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.transactions[ep.Code]; exists {
		return fmt.Errorf("registry: transaction %q already registered", ep.Code)
	}
	r.transactions[ep.Code] = ep
	return nil
}

func (r *Registry) addSubscription(ep *Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.subscriptions[ep.Code]; exists {
		return fmt.Errorf("registry: subscription %q already registered", ep.Code)
	}
	r.subscriptions[ep.Code] = ep
	return nil
}

// Transaction looks up a registered transaction by code.
func (r *Registry) Transaction(code string) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.transactions[code]
	return ep, ok
}

// Subscription looks up a registered subscription by code.
func (r *Registry) Subscription(code string) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.subscriptions[code]
	return ep, ok
}

// TransactionCodes returns every registered transaction code, sorted, for
// the WELCOME/INFO_REP "transactions" listing (spec section 4.4).
func (r *Registry) TransactionCodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.transactions))
	for code := range r.transactions {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// RegisterTransaction registers a request/response endpoint. P is the
// handler's declared parameter struct (reflected once here to build the
// Parameter descriptor list); R is its result type, converted to a
// wire.Value via wire.EncodeGo after the handler returns.
func RegisterTransaction[P any, R any](reg *Registry, code string, fn func(ctx context.Context, params P) (R, error)) error {
	params, err := reflectParameters(reflect.TypeOf(*new(P)))
	if err != nil {
		return fmt.Errorf("registry: transaction %q: %w", code, err)
	}

	bound := func(ctx context.Context, args wire.Map) (wire.Value, error) {
		boundArgs, err := BindArgs(params, args)
		if err != nil {
			return wire.Value{}, err
		}
		var p P
		if err := wire.DecodeGo(wire.MapValue(boundArgs), &p); err != nil {
			return wire.Value{}, wire.NewError(wire.ErrBadRequest, err.Error())
		}
		result, err := fn(ctx, p)
		if err != nil {
			if werr, ok := wire.AsError(err); ok {
				return wire.Value{}, werr
			}
			return wire.Value{}, wire.NewError(wire.ErrHandlerError, err.Error())
		}
		v, err := wire.EncodeGo(result)
		if err != nil {
			return wire.Value{}, wire.NewError(wire.ErrEncoding, err.Error())
		}
		return v, nil
	}

	return reg.addTransaction(&Endpoint{
		Code:        code,
		Kind:        KindTransaction,
		Parameters:  params,
		Transaction: bound,
	})
}

// RegisterSubscription registers a server-pushed streaming endpoint. P is
// the handler's declared parameter struct; I is the type of each produced
// item. yield is how the handler pushes one item at a time; it returns an
// error (typically ctx.Err()) once the subscription has been cancelled,
// giving the handler its cooperative cancellation signal per spec
// section 9's DESIGN NOTES.
func RegisterSubscription[P any, I any](reg *Registry, code string, fn func(ctx context.Context, params P, yield func(I) error) error) error {
	params, err := reflectParameters(reflect.TypeOf(*new(P)))
	if err != nil {
		return fmt.Errorf("registry: subscription %q: %w", code, err)
	}

	bound := func(ctx context.Context, args wire.Map, emit func(wire.Value) error) error {
		boundArgs, err := BindArgs(params, args)
		if err != nil {
			return err
		}
		var p P
		if err := wire.DecodeGo(wire.MapValue(boundArgs), &p); err != nil {
			return wire.NewError(wire.ErrBadRequest, err.Error())
		}

		yield := func(item I) error {
			v, err := wire.EncodeGo(item)
			if err != nil {
				return wire.NewError(wire.ErrEncoding, err.Error())
			}
			return emit(v)
		}

		if err := fn(ctx, p, yield); err != nil {
			if werr, ok := wire.AsError(err); ok {
				return werr
			}
			return wire.NewError(wire.ErrHandlerError, err.Error())
		}
		return nil
	}

	return reg.addSubscription(&Endpoint{
		Code:         code,
		Kind:         KindSubscription,
		Parameters:   params,
		Subscription: bound,
	})
}

// reflectParameters builds the Parameter list for a params struct type.
// Defaults are read from a `default:"..."` tag and parsed according to
// the field's own Go kind; fields with no default tag are required.
func reflectParameters(t reflect.Type) ([]Parameter, error) {
	if t == nil {
		return nil, nil
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("parameter type must be a struct, got %s", t.Kind())
	}

	params := make([]Parameter, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" { // unexported
			continue
		}
		name := sf.Tag.Get("htcp")
		if name == "" {
			name = sf.Name
		}

		p := Parameter{Name: name}
		if defTag, ok := sf.Tag.Lookup("default"); ok {
			def, err := parseDefault(sf.Type, defTag)
			if err != nil {
				return nil, fmt.Errorf("field %q default %q: %w", sf.Name, defTag, err)
			}
			p.HasDefault = true
			p.Default = def
		}
		params = append(params, p)
	}
	return params, nil
}

func parseDefault(t reflect.Type, raw string) (wire.Value, error) {
	switch t.Kind() {
	case reflect.String:
		return wire.StringValue(raw), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return wire.Value{}, err
		}
		return wire.IntValue(n), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return wire.Value{}, err
		}
		return wire.IntValue(int64(n)), nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return wire.Value{}, err
		}
		return wire.FloatValue(f), nil
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return wire.Value{}, err
		}
		return wire.BoolValue(b), nil
	default:
		return wire.Value{}, fmt.Errorf("unsupported default for kind %s", t.Kind())
	}
}
