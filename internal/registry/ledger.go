package registry

import (
	"database/sql"
	"fmt"
	"time"
)

// RecordEvent appends an event to the payment ledger. The insert is keyed
// on (subscription_id, transaction_id) and races safely: concurrent
// duplicate deliveries resolve to exactly one winner at the storage layer,
// not via an application-level lock. When the row already exists the
// existing row is returned with inserted=false; callers treat that as a
// no-op, not an error.
func (r *Registry) RecordEvent(ev *PaymentEvent) (inserted bool, existing *PaymentEvent, err error) {
	if ev == nil {
		return false, nil, fmt.Errorf("event is nil")
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	if ev.Outcome == "" {
		ev.Outcome = OutcomeReceived
	}

	res, err := r.db.Exec(`
		INSERT INTO payment_events (subscription_id, transaction_id, event_type, email,
			amount_cents, paid, due_date, received_at, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subscription_id, transaction_id) DO NOTHING`,
		ev.SubscriptionID, ev.TransactionID, string(ev.EventType), ev.Email,
		ev.AmountCents, boolToInt(ev.Paid), unixOrZero(ev.DueDate),
		ev.ReceivedAt.Unix(), string(ev.Outcome),
	)
	if err != nil {
		return false, nil, fmt.Errorf("record payment event: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		return true, nil, nil
	}

	prior, err := r.Event(ev.SubscriptionID, ev.TransactionID)
	if err != nil {
		return false, nil, err
	}
	if prior == nil {
		return false, nil, fmt.Errorf("ledger row (%s, %s) vanished after conflict",
			ev.SubscriptionID, ev.TransactionID)
	}
	return false, prior, nil
}

const eventColumns = `subscription_id, transaction_id, event_type, email, amount_cents,
	paid, due_date, received_at, outcome`

// Event retrieves one ledger row, nil when absent.
func (r *Registry) Event(subscriptionID, transactionID string) (*PaymentEvent, error) {
	row := r.db.QueryRow(`SELECT `+eventColumns+` FROM payment_events
		WHERE subscription_id = ? AND transaction_id = ?`, subscriptionID, transactionID)
	return scanEvent(row)
}

// SetEventOutcome updates the processing outcome of a ledger row. The row
// itself is otherwise immutable.
func (r *Registry) SetEventOutcome(subscriptionID, transactionID string, outcome EventOutcome) error {
	res, err := r.db.Exec(`UPDATE payment_events SET outcome = ?
		WHERE subscription_id = ? AND transaction_id = ?`,
		string(outcome), subscriptionID, transactionID)
	if err != nil {
		return fmt.Errorf("set event outcome: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("ledger row (%s, %s) not found", subscriptionID, transactionID)
	}
	return nil
}

// EventsBySubscription returns every ledger row for a subscription id in
// arrival order.
func (r *Registry) EventsBySubscription(subscriptionID string) ([]*PaymentEvent, error) {
	rows, err := r.db.Query(`SELECT `+eventColumns+` FROM payment_events
		WHERE subscription_id = ? ORDER BY received_at ASC, transaction_id ASC`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list events by subscription: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListEventsByOutcome returns ledger rows with the given outcome. The
// unmatched rows form the reconciliation queue.
func (r *Registry) ListEventsByOutcome(outcome EventOutcome) ([]*PaymentEvent, error) {
	rows, err := r.db.Query(`SELECT `+eventColumns+` FROM payment_events
		WHERE outcome = ? ORDER BY received_at ASC`, string(outcome))
	if err != nil {
		return nil, fmt.Errorf("list events by outcome: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CountEventsBySubscription returns the number of ledger rows for a
// subscription id.
func (r *Registry) CountEventsBySubscription(subscriptionID string) (int, error) {
	row := r.db.QueryRow(`SELECT COUNT(*) FROM payment_events WHERE subscription_id = ?`,
		subscriptionID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// LedgerRevenueCents sums the amounts of applied paid events, the
// ledger-derived revenue the auditor reconciles display totals against.
func (r *Registry) LedgerRevenueCents() (int64, error) {
	row := r.db.QueryRow(`SELECT COALESCE(SUM(amount_cents), 0) FROM payment_events
		WHERE outcome = ? AND paid = 1`, string(OutcomeApplied))
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("ledger revenue: %w", err)
	}
	return total, nil
}

func scanEvent(s scanner) (*PaymentEvent, error) {
	var ev PaymentEvent
	var eventType, outcome string
	var paid int
	var dueDate, receivedAt int64
	err := s.Scan(&ev.SubscriptionID, &ev.TransactionID, &eventType, &ev.Email,
		&ev.AmountCents, &paid, &dueDate, &receivedAt, &outcome)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment event: %w", err)
	}
	ev.EventType = EventType(eventType)
	ev.Outcome = EventOutcome(outcome)
	ev.Paid = paid != 0
	if dueDate > 0 {
		ev.DueDate = time.Unix(dueDate, 0).UTC()
	}
	ev.ReceivedAt = time.Unix(receivedAt, 0).UTC()
	return &ev, nil
}

func scanEvents(rows *sql.Rows) ([]*PaymentEvent, error) {
	var out []*PaymentEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
