// Package notify bridges domain events to the external notification
// collaborator. Delivery is fire-and-forget with bounded retries; failures
// never reach back into the settlement core.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/handoff-hub/handoff-hub/internal/domain/event"
	"github.com/handoff-hub/handoff-hub/internal/infrastructure/pubsub"
)

// Priority of an outbound notification.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Sender is the external delivery collaborator.
type Sender interface {
	Send(ctx context.Context, recipient, subject string, priority Priority, payload json.RawMessage) error
}

const maxAttempts = 3

// Dispatcher consumes bus events and forwards the ones parties care about.
type Dispatcher struct {
	sender Sender
	logger zerolog.Logger
}

func NewDispatcher(sender Sender, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		logger: logger.With().Str("component", "notify_dispatcher").Logger(),
	}
}

// Run consumes the subscription until ctx is cancelled or the channel
// closes.
func (d *Dispatcher) Run(ctx context.Context, sub *pubsub.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			d.dispatch(ctx, e)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, e event.Event) {
	recipient, subject, priority, ok := route(e)
	if !ok {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		d.logger.Warn().Err(err).Str("event_type", string(e.Type)).Msg("failed to encode notification payload")
		return
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = d.sender.Send(ctx, recipient, subject, priority, payload); err == nil {
			return
		}
		d.logger.Warn().Err(err).
			Str("recipient", recipient).
			Str("event_type", string(e.Type)).
			Int("attempt", attempt).
			Msg("notification send failed")
	}
}

// route decides recipient, subject and priority per event type. Events with
// no notification mapping are skipped.
func route(e event.Event) (recipient, subject string, priority Priority, ok bool) {
	txID := e.TransactionID.String()
	switch e.Type {
	case event.TypeTimeoutWarning:
		return e.Fields["awaiting"], fmt.Sprintf("confirmation window closing for transaction %s", txID), PriorityHigh, true
	case event.TypeTransactionTimedOut:
		return e.Fields["awaiting"], fmt.Sprintf("transaction %s timed out", txID), PriorityCritical, true
	case event.TypeDisputeRaised:
		return e.Fields["counterparty"], fmt.Sprintf("dispute raised on transaction %s", txID), PriorityCritical, true
	case event.TypeDisputeResolved:
		return e.Fields["loser"], fmt.Sprintf("dispute resolved on transaction %s", txID), PriorityHigh, true
	case event.TypeTransactionValidated:
		return e.Fields["sender"], fmt.Sprintf("transaction %s settled", txID), PriorityLow, true
	}
	return "", "", "", false
}

// LogSender writes notifications to the log. It stands in for a real
// delivery integration in development and tests.
type LogSender struct {
	Logger zerolog.Logger
}

func (s *LogSender) Send(ctx context.Context, recipient, subject string, priority Priority, payload json.RawMessage) error {
	s.Logger.Info().
		Str("recipient", recipient).
		Str("subject", subject).
		Str("priority", string(priority)).
		RawJSON("payload", payload).
		Msg("notification dispatched")
	return nil
}
