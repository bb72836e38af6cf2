package registry

import (
	"fmt"

	"github.com/tenzoki/htcp/internal/wire"
)

// BindArgs implements spec section 4.3's argument binding: for each
// declared parameter, consume the request mapping entry of the same name
// (falling back to its default if one exists, failing otherwise), then
// reject any request entry that doesn't match a declared parameter. The
// returned Map always has exactly one entry per parameter, in parameter
// order, ready for wire.DecodeGo into the handler's params struct.
func BindArgs(params []Parameter, args wire.Map) (wire.Map, error) {
	bound := make(wire.Map, 0, len(params))
	declared := make(map[string]struct{}, len(params))

	for _, p := range params {
		declared[p.Name] = struct{}{}
		val, ok := args.Get(p.Name)
		if !ok {
			if p.HasDefault {
				val = p.Default
			} else {
				return nil, wire.NewError(wire.ErrBadRequest, fmt.Sprintf("missing required argument %q", p.Name))
			}
		}
		bound = append(bound, wire.MapEntry{Key: p.Name, Value: val})
	}

	for _, entry := range args {
		if _, ok := declared[entry.Key]; !ok {
			return nil, wire.NewError(wire.ErrBadRequest, fmt.Sprintf("unexpected argument %q", entry.Key))
		}
	}

	return bound, nil
}
