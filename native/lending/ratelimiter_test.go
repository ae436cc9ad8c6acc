package lending

import "testing"

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{}, 10)
	for slot := uint64(10); slot < 20; slot++ {
		if err := limiter.Update(slot, NewDecimal(1<<40)); err != nil {
			t.Fatalf("disabled limiter rejected outflow: %v", err)
		}
	}
}

func TestRateLimiterSingleWindow(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{WindowDuration: 10, MaxOutflow: 100}, 10)

	if err := limiter.Update(9, NewDecimal(1)); err != ErrMathOverflow {
		t.Fatalf("time going backwards: got %v", err)
	}
	if err := limiter.Update(10, NewDecimal(101)); err != ErrOutflowRateLimit {
		t.Fatalf("over budget: got %v", err)
	}
	if err := limiter.Update(10, NewDecimal(100)); err != nil {
		t.Fatalf("exact budget: %v", err)
	}
	if err := limiter.Update(10, NewDecimal(1)); err != ErrOutflowRateLimit {
		t.Fatalf("budget exhausted: got %v", err)
	}
	// A rejected update must not consume budget later in the window.
	if err := limiter.Update(19, NewDecimal(1)); err != ErrOutflowRateLimit {
		t.Fatalf("budget exhausted at window end: got %v", err)
	}
}

func TestRateLimiterSlidingDecay(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{WindowDuration: 10, MaxOutflow: 100}, 10)
	if err := limiter.Update(10, NewDecimal(100)); err != nil {
		t.Fatalf("fill window: %v", err)
	}

	// First slot of the next window: 90% of the previous outflow still
	// counts, leaving room for 10.
	if err := limiter.Update(20, NewDecimal(11)); err != ErrOutflowRateLimit {
		t.Fatalf("over decayed budget: got %v", err)
	}
	if err := limiter.Update(20, NewDecimal(10)); err != nil {
		t.Fatalf("decayed budget: %v", err)
	}

	// Six slots in, only 40% of the previous window carries.
	if err := limiter.Update(25, NewDecimal(50)); err != nil {
		t.Fatalf("mid-window budget: %v", err)
	}
	if err := limiter.Update(25, NewDecimal(1)); err != ErrOutflowRateLimit {
		t.Fatalf("mid-window budget exhausted: got %v", err)
	}
}

func TestRateLimiterWindowJump(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{WindowDuration: 10, MaxOutflow: 100}, 10)
	if err := limiter.Update(10, NewDecimal(100)); err != nil {
		t.Fatalf("fill window: %v", err)
	}
	// Jumping past a full window leaves nothing carried over.
	if err := limiter.Update(100, NewDecimal(100)); err != nil {
		t.Fatalf("after jump: %v", err)
	}
}
