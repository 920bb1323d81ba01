package sink

import (
	"context"

	"ForgeLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Dispatcher delivers committed notifications. Delivery is fire-and-forget:
// failures are logged and counted, never reported back to the operation.
type Dispatcher struct {
	inputChan <-chan []Delivery
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

func NewDispatcher(inputChan <-chan []Delivery, logger zerolog.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		inputChan: inputChan,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run starts the delivery loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case batch, ok := <-d.inputChan:
			if !ok {
				return nil
			}
			d.Deliver(ctx, batch)
		}
	}
}

// Deliver hands every delivery to its endpoint, in order.
func (d *Dispatcher) Deliver(ctx context.Context, batch []Delivery) {
	for _, del := range batch {
		kind := del.Outgoing.Notification.Kind().String()
		name := del.Endpoint.Name()

		if err := del.Endpoint.Deliver(ctx, del.Outgoing); err != nil {
			d.logger.Warn().
				Err(err).
				Str("sink", name).
				Str("kind", kind).
				Str("emitter", del.Outgoing.Emitter.String()).
				Msg("notification delivery failed")
			if d.metrics != nil {
				d.metrics.NotificationFailures.WithLabelValues(name, kind).Inc()
			}
			continue
		}

		if d.metrics != nil {
			d.metrics.NotificationsDelivered.WithLabelValues(name, kind).Inc()
		}
	}
}
