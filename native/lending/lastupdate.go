package lending

// LastUpdate records the height a reserve or obligation was last refreshed at
// together with an explicit staleness flag. Every mutation marks the holder
// stale; only a refresh at the current height clears it.
type LastUpdate struct {
	Slot  uint64
	Stale bool
}

// NewLastUpdate returns a marker that starts out stale so freshly created
// state must be refreshed before any value-sensitive operation.
func NewLastUpdate() LastUpdate {
	return LastUpdate{Stale: true}
}

// Update records a refresh at the given height and clears staleness.
func (l *LastUpdate) Update(slot uint64) {
	l.Slot = slot
	l.Stale = false
}

// MarkStale flags the holder as needing a refresh.
func (l *LastUpdate) MarkStale() {
	l.Stale = true
}

// SlotsElapsed returns the height delta since the last refresh. A current
// height behind the recorded one is a math error, not a negative delta.
func (l LastUpdate) SlotsElapsed(currentSlot uint64) (uint64, error) {
	if currentSlot < l.Slot {
		return 0, ErrMathOverflow
	}
	return currentSlot - l.Slot, nil
}

// IsStale reports whether the holder needs a refresh before it can be relied
// on at currentSlot. slack is the number of elapsed heights tolerated; strict
// value-comparing operations pass zero.
func (l LastUpdate) IsStale(currentSlot uint64, slack uint64) bool {
	if l.Stale {
		return true
	}
	if currentSlot < l.Slot {
		return true
	}
	return currentSlot-l.Slot > slack
}
