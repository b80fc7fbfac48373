package hotkey

import "context"

// Hotkey reports presses of the global Ctrl+Shift+Space chord, which toggles
// the live session on and off.
type Hotkey interface {
	Register() error
	Unregister()
	Pressed() <-chan struct{}
}

// Run calls toggle once per press until ctx is done.
func Run(ctx context.Context, hk Hotkey, toggle func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hk.Pressed():
			toggle()
		}
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
