package registry

import (
	"context"
	"testing"

	"github.com/tenzoki/htcp/internal/wire"
)

type welcomeParams struct {
	ClientName string `htcp:"client_name"`
}

type counterParams struct {
	Start int     `htcp:"start" default:"0"`
	Step  int     `htcp:"step" default:"1"`
	Delay float64 `htcp:"delay" default:"0.5"`
}

func TestRegisterTransactionAndInvoke(t *testing.T) {
	reg := New()
	err := RegisterTransaction(reg, "get_welcome", func(ctx context.Context, p welcomeParams) ([2]wire.Value, error) {
		return [2]wire.Value{wire.StringValue("Welcome " + p.ClientName + "!"), wire.IntValue(0)}, nil
	})
	if err != nil {
		t.Fatalf("RegisterTransaction: %v", err)
	}

	ep, ok := reg.Transaction("get_welcome")
	if !ok {
		t.Fatalf("expected endpoint to be registered")
	}

	args := wire.Map{{Key: "client_name", Value: wire.StringValue("John")}}
	result, err := ep.Transaction(context.Background(), args)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.Tag != wire.TagSeq || len(result.Seq) != 2 {
		t.Fatalf("unexpected result shape: %+v", result)
	}
	if result.Seq[0].Str != "Welcome John!" {
		t.Errorf("unexpected message: %q", result.Seq[0].Str)
	}
}

func TestRegisterTransactionDuplicateFails(t *testing.T) {
	reg := New()
	fn := func(ctx context.Context, p struct{}) (wire.Value, error) { return wire.Null(), nil }
	if err := RegisterTransaction(reg, "dup", fn); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := RegisterTransaction(reg, "dup", fn); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestDefaultsAppliedWhenArgumentMissing(t *testing.T) {
	reg := New()
	err := RegisterTransaction(reg, "counter_value", func(ctx context.Context, p counterParams) (wire.Value, error) {
		return wire.IntValue(int64(p.Start + p.Step)), nil
	})
	if err != nil {
		t.Fatalf("RegisterTransaction: %v", err)
	}

	ep, _ := reg.Transaction("counter_value")
	result, err := ep.Transaction(context.Background(), wire.Map{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.Int != 1 {
		t.Errorf("expected default-driven result 1, got %d", result.Int)
	}
}

func TestMissingRequiredArgumentFails(t *testing.T) {
	reg := New()
	RegisterTransaction(reg, "get_welcome", func(ctx context.Context, p welcomeParams) (wire.Value, error) {
		return wire.Null(), nil
	})
	ep, _ := reg.Transaction("get_welcome")
	_, err := ep.Transaction(context.Background(), wire.Map{})
	werr, ok := wire.AsError(err)
	if !ok || werr.Kind != wire.ErrBadRequest {
		t.Fatalf("expected bad_request error, got %v", err)
	}
}

func TestExtraArgumentFails(t *testing.T) {
	reg := New()
	RegisterTransaction(reg, "get_welcome", func(ctx context.Context, p welcomeParams) (wire.Value, error) {
		return wire.Null(), nil
	})
	ep, _ := reg.Transaction("get_welcome")
	args := wire.Map{
		{Key: "client_name", Value: wire.StringValue("John")},
		{Key: "bogus", Value: wire.IntValue(1)},
	}
	_, err := ep.Transaction(context.Background(), args)
	werr, ok := wire.AsError(err)
	if !ok || werr.Kind != wire.ErrBadRequest {
		t.Fatalf("expected bad_request error for extra argument, got %v", err)
	}
}

func TestRegisterSubscriptionYieldsItems(t *testing.T) {
	reg := New()
	err := RegisterSubscription(reg, "counter", func(ctx context.Context, p counterParams, yield func(map[string]int) error) error {
		current := p.Start
		for i := 0; i < 3; i++ {
			if err := yield(map[string]int{"value": current}); err != nil {
				return err
			}
			current += p.Step
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RegisterSubscription: %v", err)
	}

	ep, ok := reg.Subscription("counter")
	if !ok {
		t.Fatalf("expected subscription endpoint")
	}

	var items []wire.Value
	args := wire.Map{
		{Key: "start", Value: wire.IntValue(100)},
		{Key: "step", Value: wire.IntValue(10)},
	}
	err = ep.Subscription(context.Background(), args, func(v wire.Value) error {
		items = append(items, v)
		return nil
	})
	if err != nil {
		t.Fatalf("subscription invoke: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	first, ok := items[0].Map.Get("value")
	if !ok || first.Int != 100 {
		t.Errorf("expected first value 100, got %+v", first)
	}
}
