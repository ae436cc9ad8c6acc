package lending

// RateLimiterConfig bounds outflow per sliding window. A zero WindowDuration
// disables the limiter entirely.
type RateLimiterConfig struct {
	// WindowDuration is the window length in heights.
	WindowDuration uint64
	// MaxOutflow is the maximum outflow permitted per window, in the token
	// units the limiter is tracking (raw amounts for reserves, quote value
	// for the market).
	MaxOutflow uint64
}

type rateWindow struct {
	slotStart uint64
	qty       Decimal
}

// RateLimiter is a two-window sliding outflow limiter. The previous window's
// outflow is assumed evenly distributed, which guarantees the outflow over
// any window-sized interval stays below twice the configured maximum.
type RateLimiter struct {
	Config     RateLimiterConfig
	prevWindow rateWindow
	curWindow  rateWindow
}

// NewRateLimiter initialises a limiter anchored at the current height.
func NewRateLimiter(config RateLimiterConfig, curSlot uint64) RateLimiter {
	var slotStart uint64
	if config.WindowDuration > 0 {
		slotStart = curSlot / config.WindowDuration * config.WindowDuration
	}
	var prevStart uint64
	if slotStart > 0 {
		prevStart = slotStart - 1
	}
	return RateLimiter{
		Config:     config,
		prevWindow: rateWindow{slotStart: prevStart},
		curWindow:  rateWindow{slotStart: slotStart},
	}
}

// RateLimiterSnapshot is the persistable view of a limiter's windows.
type RateLimiterSnapshot struct {
	PrevSlotStart uint64
	PrevQty       Decimal
	CurSlotStart  uint64
	CurQty        Decimal
}

// Snapshot captures the limiter's window state for persistence.
func (r RateLimiter) Snapshot() RateLimiterSnapshot {
	return RateLimiterSnapshot{
		PrevSlotStart: r.prevWindow.slotStart,
		PrevQty:       r.prevWindow.qty,
		CurSlotStart:  r.curWindow.slotStart,
		CurQty:        r.curWindow.qty,
	}
}

// RestoreRateLimiter rebuilds a limiter from a persisted snapshot.
func RestoreRateLimiter(config RateLimiterConfig, snap RateLimiterSnapshot) RateLimiter {
	return RateLimiter{
		Config:     config,
		prevWindow: rateWindow{slotStart: snap.PrevSlotStart, qty: snap.PrevQty},
		curWindow:  rateWindow{slotStart: snap.CurSlotStart, qty: snap.CurQty},
	}
}

// Update records qty of outflow at curSlot, failing with ErrOutflowRateLimit
// when the budget for the sliding window is exhausted. A failed update does
// not consume budget.
func (r *RateLimiter) Update(curSlot uint64, qty Decimal) error {
	duration := r.Config.WindowDuration
	if duration == 0 {
		return nil
	}
	if curSlot < r.curWindow.slotStart {
		return ErrMathOverflow
	}

	slotStart := curSlot / duration * duration
	switch {
	case slotStart < r.curWindow.slotStart+duration:
		// Still inside the current window.
	case slotStart == r.curWindow.slotStart+duration:
		// Advanced exactly one window; the old current window becomes the
		// previous one.
		r.prevWindow = r.curWindow
		r.curWindow = rateWindow{slotStart: slotStart}
	default:
		// Jumped past at least one full window; nothing carries over.
		prevStart := slotStart
		if prevStart > 0 {
			prevStart--
		}
		r.prevWindow = rateWindow{slotStart: prevStart}
		r.curWindow = rateWindow{slotStart: slotStart}
	}

	// Weight the previous window by the fraction of the current window that
	// has not yet elapsed.
	elapsed := curSlot - r.curWindow.slotStart + 1
	elapsedFrac, err := NewDecimal(elapsed).DivUint(duration)
	if err != nil {
		return err
	}
	prevWeight, err := OneDecimal().Sub(elapsedFrac)
	if err != nil {
		return err
	}
	carried, err := prevWeight.Mul(r.prevWindow.qty)
	if err != nil {
		return err
	}
	curOutflow, err := carried.Add(r.curWindow.qty)
	if err != nil {
		return err
	}
	total, err := curOutflow.Add(qty)
	if err != nil {
		return err
	}
	if total.Cmp(NewDecimal(r.Config.MaxOutflow)) > 0 {
		return ErrOutflowRateLimit
	}

	r.curWindow.qty, err = r.curWindow.qty.Add(qty)
	return err
}
