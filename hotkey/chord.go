package hotkey

// Linux input event codes for the chord keys.
const (
	keyLCtrl  = 29
	keyRCtrl  = 97
	keyLShift = 42
	keyRShift = 54
	keySpace  = 57

	keyRelease = 0
	keyPress   = 1
)

// chord tracks modifier state across key events and reports a press when
// Space goes down while Ctrl and Shift are held. Auto-repeat does not
// re-fire until Space is released.
type chord struct {
	ctrl, shift, space bool
}

func (c *chord) feed(code uint16, value int32) bool {
	pressed := value == keyPress
	released := value == keyRelease
	switch code {
	case keyLCtrl, keyRCtrl:
		c.ctrl = pressed || (!released && c.ctrl)
	case keyLShift, keyRShift:
		c.shift = pressed || (!released && c.shift)
	case keySpace:
		if pressed && !c.space && c.ctrl && c.shift {
			c.space = true
			return true
		}
		if released {
			c.space = false
		}
	}
	return false
}
