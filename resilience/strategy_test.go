package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStrategy_BestEffortFailsOpen(t *testing.T) {
	s := BestEffort(50 * time.Millisecond)

	proceed, err := s.Execute(context.Background(), func(context.Context) error {
		return errors.New("store down")
	})
	if err == nil {
		t.Fatal("expected error to be reported")
	}
	if !proceed {
		t.Error("expected best-effort strategy to proceed on failure")
	}
}

func TestStrategy_StrictFailsClosed(t *testing.T) {
	s := Strict(50 * time.Millisecond)

	proceed, err := s.Execute(context.Background(), func(context.Context) error {
		return errors.New("limiter down")
	})
	if err == nil {
		t.Fatal("expected error to be reported")
	}
	if proceed {
		t.Error("expected strict strategy not to proceed on failure")
	}
}

func TestStrategy_TimeoutFollowsMode(t *testing.T) {
	slow := func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}

	proceed, err := BestEffort(10*time.Millisecond).Execute(context.Background(), slow)
	if !errors.Is(err, ErrTimeout) || !proceed {
		t.Errorf("best effort: expected (true, ErrTimeout), got (%v, %v)", proceed, err)
	}

	proceed, err = Strict(10*time.Millisecond).Execute(context.Background(), slow)
	if !errors.Is(err, ErrTimeout) || proceed {
		t.Errorf("strict: expected (false, ErrTimeout), got (%v, %v)", proceed, err)
	}
}

func TestStrategy_Success(t *testing.T) {
	for _, s := range []Strategy{BestEffort(time.Second), Strict(time.Second)} {
		t.Run(s.Mode().String(), func(t *testing.T) {
			called := false
			proceed, err := s.Execute(context.Background(), func(context.Context) error {
				called = true
				return nil
			})
			if err != nil || !proceed || !called {
				t.Errorf("expected success, got proceed=%v err=%v called=%v", proceed, err, called)
			}
		})
	}
}
