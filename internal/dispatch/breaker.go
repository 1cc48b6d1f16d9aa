package dispatch

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerNotifier stops calling a failing notifier for a cool-down period
// after a run of consecutive failures
type BreakerNotifier struct {
	next Notifier
	cb   *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerNotifier wraps next with a circuit breaker that opens after
// failures consecutive errors and probes again after cooldown
func NewBreakerNotifier(next Notifier, failures int, cooldown time.Duration, logger *zap.Logger) *BreakerNotifier {
	if failures <= 0 {
		failures = 5
	}
	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Notifier circuit changed state",
				zap.String("notifier", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &BreakerNotifier{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

func (b *BreakerNotifier) Name() string { return b.next.Name() }

// Notify forwards to the wrapped notifier, or fails fast with
// gobreaker.ErrOpenState while the circuit is open
func (b *BreakerNotifier) Notify(ctx context.Context, n Notification) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Notify(ctx, n)
	})
	return err
}

// State reports the breaker state
func (b *BreakerNotifier) State() gobreaker.State {
	return b.cb.State()
}
