package sbstate

import "testing"

func TestCanTransitionTable(t *testing.T) {
	legal := []struct{ from, to State }{
		{Creating, Initializing},
		{Creating, Error},
		{Creating, Destroyed},
		{Initializing, Ready},
		{Ready, Executing},
		{Executing, Idle},
		{Idle, Ready},
		{Idle, Suspended},
		{Suspended, Initializing},
		{Error, Creating},
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be legal", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to State }{
		{Ready, Idle},
		{Idle, Executing},
		{Destroyed, Creating},
		{Suspended, Ready},
		{Creating, Ready},
		{Error, Ready},
	}
	for _, tc := range illegal {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be illegal", tc.from, tc.to)
		}
	}
}

func TestTransitionReturnsErrorOnIllegalMove(t *testing.T) {
	_, err := Transition(Ready, Idle)
	if err == nil {
		t.Fatal("expected error for illegal transition")
	}
	var invalidErr *InvalidTransitionError
	if _, ok := err.(*InvalidTransitionError); !ok {
		t.Fatalf("expected *InvalidTransitionError, got %T", err)
	}
	_ = invalidErr
}

func TestTransitionReturnsNewStateOnLegalMove(t *testing.T) {
	s, err := Transition(Creating, Initializing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != Initializing {
		t.Fatalf("expected Initializing, got %s", s)
	}
}

func TestDestroyedIsTerminal(t *testing.T) {
	for _, s := range []State{Creating, Initializing, Ready, Executing, Idle, Suspended, Error} {
		if CanTransition(Destroyed, s) {
			t.Errorf("Destroyed must have no legal exits, found %s", s)
		}
	}
}
