package interceptor

import (
	"testing"

	gocontext "github.com/gostdlib/base/context"

	"github.com/asterisque/asterisque/wire"
)

func recording(log *[]string, name string) Interceptor {
	return func(ctx gocontext.Context, params []wire.Value, info *Info, handler Handler) (wire.Value, error) {
		*log = append(*log, name+":before")
		v, err := handler(ctx, params)
		*log = append(*log, name+":after")
		return v, err
	}
}

func TestChainRunsOutermostFirst(t *testing.T) {
	var log []string
	handler := func(ctx gocontext.Context, params []wire.Value) (wire.Value, error) {
		log = append(log, "handler")
		return wire.Bool(true), nil
	}

	chain := Chain(recording(&log, "a"), recording(&log, "b"))
	_, err := chain(t.Context(), nil, &Info{}, handler)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}

	want := []string{"a:before", "b:before", "handler", "b:after", "a:after"}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log = %v, want %v", log, want)
		}
	}
}

func TestChainShortCircuits(t *testing.T) {
	called := false
	handler := func(ctx gocontext.Context, params []wire.Value) (wire.Value, error) {
		called = true
		return wire.Null(), nil
	}
	short := func(ctx gocontext.Context, params []wire.Value, info *Info, handler Handler) (wire.Value, error) {
		return wire.I32(42), nil
	}

	chain := Chain(short)
	v, err := chain(t.Context(), nil, &Info{}, handler)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if called {
		t.Fatalf("handler should not have been invoked")
	}
	if v.I32 != 42 {
		t.Fatalf("v.I32 = %d, want 42", v.I32)
	}
}

func TestChainWithNoInterceptorsCallsHandler(t *testing.T) {
	handler := func(ctx gocontext.Context, params []wire.Value) (wire.Value, error) {
		return wire.Str("ok"), nil
	}
	chain := Chain()
	v, err := chain(t.Context(), nil, &Info{}, handler)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if v.Str != "ok" {
		t.Fatalf("v.Str = %q, want ok", v.Str)
	}
}
