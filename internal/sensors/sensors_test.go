package sensors

import (
	"context"
	"errors"
	"testing"
)

func TestScriptedVision(t *testing.T) {
	v := NewScriptedVision(IntersectionPattern(true, false)...)

	if f := mustNext(t, v); !f.Intersection {
		t.Errorf("first frame = %+v, want intersection", f)
	}
	if got := v.Remaining(); got != 1 {
		t.Errorf("Remaining() = %d, want 1", got)
	}
	if f := mustNext(t, v); f.Intersection {
		t.Errorf("second frame = %+v, want no intersection", f)
	}
	if _, err := v.Next(context.Background()); !errors.Is(err, ErrScriptExhausted) {
		t.Errorf("err = %v, want ErrScriptExhausted", err)
	}
}

func TestScriptedRange_TimesOutWhenExhausted(t *testing.T) {
	r := NewScriptedRange(50, 20)
	ctx := context.Background()

	got, err := r.Distance(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != Distance(50) {
		t.Errorf("first reading = %+v, want 50cm", got)
	}

	_, _ = r.Distance(ctx)
	got, err = r.Distance(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.OK {
		t.Errorf("reading after script = %+v, want timeout", got)
	}
	if n := r.Consumed(); n != 2 {
		t.Errorf("Consumed() = %d, want 2", n)
	}
	if s := got.String(); s != "timeout" {
		t.Errorf("String() = %q, want timeout", s)
	}
}

func TestScripted_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewScriptedVision(Frame{}).Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("vision err = %v, want context.Canceled", err)
	}
	if _, err := NewScriptedRange(10).Distance(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("range err = %v, want context.Canceled", err)
	}
}
