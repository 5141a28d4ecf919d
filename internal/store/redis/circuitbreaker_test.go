package redis

import (
	"errors"
	"testing"
	"time"
)

var errFail = errors.New("fail")

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)
	if cb.CurrentState() != StateClosed {
		t.Fatalf("new breaker: got %v, want closed", cb.CurrentState())
	}

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errFail }); err != errFail {
			t.Fatalf("call %d: got %v, want errFail", i, err)
		}
	}
	if cb.CurrentState() != StateOpen {
		t.Errorf("after 3 failures: got %v, want open", cb.CurrentState())
	}

	// Open circuit rejects without calling fn.
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if err != ErrCircuitOpen || called {
		t.Errorf("open breaker: err=%v called=%v, want ErrCircuitOpen and no call", err, called)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)

	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })

	if cb.CurrentState() != StateClosed {
		t.Errorf("non-consecutive failures must not trip: got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_ProbeClosesOrReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 20*time.Millisecond)
	var transitions []State
	cb.OnStateChange = func(_, to State) { transitions = append(transitions, to) }

	cb.Execute(func() error { return errFail }) // trips
	time.Sleep(30 * time.Millisecond)

	// Failed probe reopens.
	if err := cb.Execute(func() error { return errFail }); err != errFail {
		t.Fatalf("probe: got %v, want errFail", err)
	}
	if cb.CurrentState() != StateOpen {
		t.Fatalf("failed probe must reopen: got %v", cb.CurrentState())
	}

	time.Sleep(30 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("successful probe must close: got %v", cb.CurrentState())
	}

	want := []State{StateOpen, StateHalfOpen, StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions: got %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: got %v, want %v", i, transitions[i], want[i])
		}
	}
}
