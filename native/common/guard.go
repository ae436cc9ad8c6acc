package common

import "errors"

// ErrModulePaused rejects operations on an administratively halted module.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a native module is currently halted.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused when the named module is halted. A nil
// view or empty module name means no pause policy applies.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
