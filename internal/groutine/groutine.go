// Package groutine starts named goroutines so they are identifiable in
// pprof goroutine dumps.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn on a new goroutine labelled with name and returns a channel
// that is closed when fn returns.
//
//	done := groutine.Go(ctx, "peripheral-dispatch", p.run)
//	...
//	<-done
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) <-chan struct{} {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	done := make(chan struct{})
	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		defer close(done)
		fn(context.WithValue(ctx, goroutineNameKey, name))
	})
	return done
}

// Name returns the name the current goroutine was started with, or "".
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(goroutineNameKey).(string)
	return s
}
