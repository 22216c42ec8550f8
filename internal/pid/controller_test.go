package pid

import (
	"math"
	"testing"
	"time"
)

const eps = 1e-9

func near(a, b float64) bool { return math.Abs(a-b) < eps }

func TestUpdate_ZeroErrorIsIdle(t *testing.T) {
	c := NewController(Gains{Kp: 3, Ki: 0.4, Kd: 1.2, BaseSpeed: 150})

	for i := 0; i < 5; i++ {
		left, right := c.Update(100*time.Millisecond, 0)
		if c.Output() != 0 || c.Integral() != 0 {
			t.Fatalf("cycle %d: output=%v integral=%v, want 0", i, c.Output(), c.Integral())
		}
		if left != 150 || right != 150 {
			t.Errorf("cycle %d: speeds = %v/%v, want 150/150", i, left, right)
		}
	}
}

func TestUpdate_ProportionalOnly(t *testing.T) {
	c := NewController(Gains{Kp: 2, BaseSpeed: 100})

	left, right := c.Update(100*time.Millisecond, 10)
	// error = -10, output = -20
	if !near(c.Output(), -20) {
		t.Errorf("output = %v, want -20", c.Output())
	}
	if !near(left, 80) || !near(right, 120) {
		t.Errorf("speeds = %v/%v, want 80/120", left, right)
	}
}

func TestUpdate_SignConvention(t *testing.T) {
	c := NewController(DefaultGains())
	c.gains.BaseSpeed = 128

	// Line left of centre: the right wheel must run faster.
	if left, right := c.Update(50*time.Millisecond, 5); left >= right {
		t.Errorf("offset +5: left=%v right=%v, want left < right", left, right)
	}

	c.Reset()
	if left, right := c.Update(50*time.Millisecond, -5); left <= right {
		t.Errorf("offset -5: left=%v right=%v, want left > right", left, right)
	}
}

func TestUpdate_IntegralAccumulates(t *testing.T) {
	c := NewController(Gains{Ki: 1, BaseSpeed: 100})

	c.Update(500*time.Millisecond, -2)
	if !near(c.Integral(), 1) {
		t.Errorf("integral after one step = %v, want 1", c.Integral())
	}
	c.Update(500*time.Millisecond, -2)
	if !near(c.Integral(), 2) || !near(c.Output(), 2) {
		t.Errorf("after two steps integral=%v output=%v, want 2/2", c.Integral(), c.Output())
	}
}

func TestUpdate_DerivativeSkippedForZeroDt(t *testing.T) {
	c := NewController(Gains{Kd: 10, BaseSpeed: 100})

	c.Update(0, 4)
	if c.Output() != 0 {
		t.Errorf("output with dt=0 = %v, want 0", c.Output())
	}

	c.Update(time.Second, 6)
	// error went from -4 to -6 over one second
	if !near(c.Output(), -20) {
		t.Errorf("output = %v, want -20", c.Output())
	}
}

func inRange(v float64) bool { return v >= MinSpeed && v <= MaxSpeed }

func TestUpdate_OutputAlwaysClamped(t *testing.T) {
	gains := []Gains{
		{Kp: 1000, Ki: 1000, Kd: 1000, BaseSpeed: 255},
		{Kp: -50, Ki: 5, Kd: 0, BaseSpeed: 0},
		{Kp: 1, Ki: 1e6, Kd: 1e6, BaseSpeed: 128},
	}
	offsets := []float64{-500, -1, 0, 3, 77, 1e4, math.MaxInt16, math.NaN(), math.Inf(1), math.Inf(-1)}

	for _, g := range gains {
		c := NewController(g)
		for i := 0; i < 50; i++ {
			offset := offsets[i%len(offsets)]
			left, right := c.Update(time.Duration(i%3)*20*time.Millisecond, offset)
			if !inRange(left) || !inRange(right) {
				t.Fatalf("gains %+v cycle %d offset %v: speeds %v/%v outside [%d,%d]",
					g, i, offset, left, right, MinSpeed, MaxSpeed)
			}
		}
	}
}

func TestUpdate_NonFiniteOffsetLeavesStateUntouched(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		c := NewController(Gains{Kp: 2, Ki: 1, Kd: 0.5, BaseSpeed: 100})
		wantLeft, wantRight := c.Update(100*time.Millisecond, 10)
		integral, output := c.Integral(), c.Output()

		left, right := c.Update(100*time.Millisecond, bad)
		if left != wantLeft || right != wantRight {
			t.Errorf("offset %v: speeds %v/%v, want previous %v/%v", bad, left, right, wantLeft, wantRight)
		}
		if c.Integral() != integral || c.Output() != output {
			t.Errorf("offset %v: state changed to integral=%v output=%v", bad, c.Integral(), c.Output())
		}

		// Clean frames afterwards keep a finite state.
		for i := 0; i < 3; i++ {
			left, right = c.Update(100*time.Millisecond, 0)
		}
		if math.IsNaN(c.Integral()) || math.IsInf(c.Integral(), 0) {
			t.Errorf("offset %v: integral %v is not finite", bad, c.Integral())
		}
		if !inRange(left) || !inRange(right) {
			t.Errorf("offset %v: speeds after recovery %v/%v", bad, left, right)
		}
	}
}

func TestClamp_NaN(t *testing.T) {
	if got := clamp(math.NaN(), MinSpeed, MaxSpeed); got != MinSpeed {
		t.Errorf("clamp(NaN) = %v, want %d", got, MinSpeed)
	}
}

func TestReset(t *testing.T) {
	c := NewController(DefaultGains())
	c.Update(time.Second, 12)
	c.Reset()

	if c.Integral() != 0 || c.Output() != 0 {
		t.Errorf("after Reset integral=%v output=%v, want 0", c.Integral(), c.Output())
	}
	if c.Gains() != DefaultGains() {
		t.Errorf("Reset changed gains to %+v", c.Gains())
	}
}
