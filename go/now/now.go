// Package now provides the current time in a way tests can override via the
// context. Production code calls now.Now(ctx); tests pin the clock with
// context.WithValue(ctx, now.ContextKey, someTime).
package now

import (
	"context"
	"fmt"
	"time"
)

type contextKeyType string

// ContextKey is the context key under which an overriding time.Time or
// NowProvider may be stored.
const ContextKey contextKeyType = "overwriteNow"

// NowProvider is evaluated on every Now call, for tests that need a moving
// clock. Must be threadsafe if the context crosses goroutines.
type NowProvider func() time.Time

// Now returns the current time, or the override stored in ctx.
func Now(ctx context.Context) time.Time {
	if v := ctx.Value(ContextKey); v != nil {
		switch t := v.(type) {
		case NowProvider:
			return t()
		case time.Time:
			return t
		default:
			panic(fmt.Sprintf("unknown value type for now.ContextKey: %v", v))
		}
	}
	return time.Now()
}

// TimeTravelingContext pins Now(ctx) to a fixed, settable instant.
type TimeTravelingContext struct {
	context.Context
	ts time.Time
}

// TimeTravelCtx returns a TimeTravelingContext wrapping context.Background.
func TimeTravelCtx(start time.Time) *TimeTravelingContext {
	ctx := &TimeTravelingContext{ts: start}
	ctx.Context = context.WithValue(context.Background(), ContextKey, NowProvider(func() time.Time {
		return ctx.ts
	}))
	return ctx
}

// SetTime changes the time returned by Now for this context.
func (c *TimeTravelingContext) SetTime(ts time.Time) {
	c.ts = ts
}
