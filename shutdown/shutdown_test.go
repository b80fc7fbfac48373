package shutdown

import (
	"context"
	"testing"
)

func TestContextStop(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := Context(parent)
	defer stop()
	if ctx.Err() != nil {
		t.Fatal("context done before any signal")
	}
	cancel()
	<-ctx.Done()
}
