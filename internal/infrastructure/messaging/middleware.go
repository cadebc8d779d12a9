package messaging

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
	"github.com/mhieu102/N3-CCPTPM-S4/pkg/logger"
)

// Middleware decorates a subscribed handler.
type Middleware func(shared.EventHandler) shared.EventHandler

// Chain wraps handler so that middlewares[0] runs first.
func Chain(handler shared.EventHandler, middlewares ...Middleware) shared.EventHandler {
	for i := range middlewares {
		handler = middlewares[len(middlewares)-1-i](handler)
	}
	return handler
}

// RecoveryMiddleware reports a panicking handler as ErrHandlerPanic.
func RecoveryMiddleware(log *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				log.Error("event handler panicked", "event_type", event.EventType(), "panic", p)
				err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
			}()
			return next(event)
		}
	}
}

// LoggingMiddleware records the outcome and latency of every delivery.
func LoggingMiddleware(log *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)
			l := log.With("event_type", event.EventType(), "aggregate_id", event.AggregateID(), logger.Latency(time.Since(start)))
			if err != nil {
				l.Warn("event handler failed", logger.Err(err))
				return err
			}
			l.Debug("event handled")
			return nil
		}
	}
}
