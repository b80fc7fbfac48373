package shutdown

import (
	"context"
	"os"
	"os/signal"
)

// Context returns a context cancelled on the first termination signal.
// Calling stop restores default signal handling so a second signal kills
// the process.
func Context(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, signals...)
}

func Notify(ch chan<- os.Signal) {
	signal.Notify(ch, signals...)
}
