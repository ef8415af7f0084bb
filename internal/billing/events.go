// Package billing folds payment-gateway webhook events into durable
// subscription state. The ledger is the system of record; subscription
// profiles are a derived, rebuildable projection.
package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/titanfed/titan/internal/registry"
)

// ErrValidation marks a malformed or incomplete event, rejected before any
// ledger write.
var ErrValidation = errors.New("invalid payment event")

// statusPaid is the gateway transaction status meaning the charge settled.
const statusPaid = 3

// defaultCycle is the expiry granted when a paid event carries no due date.
const defaultCycle = 30 * 24 * time.Hour

// flexID tolerates gateway ids arriving as either JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", data)
	}
	*f = flexID(n.String())
	return nil
}

// gatewayPayload covers both Safe2Pay event families observed in the wild:
// the flat shape (ids and amount at top level) and the detailed shape
// (TransactionStatus / AmountDetails / Customer object). Unknown EventType
// values are quarantined, never guessed at.
type gatewayPayload struct {
	EventType         string  `json:"EventType"`
	IDSubscription    flexID  `json:"IdSubscription"`
	IDTransaction     flexID  `json:"IdTransaction"`
	Status            int     `json:"Status"`
	TransactionStatus *struct {
		ID int `json:"Id"`
	} `json:"TransactionStatus"`
	Amount        float64 `json:"Amount"`
	AmountDetails *struct {
		TotalAmount float64 `json:"TotalAmount"`
	} `json:"AmountDetails"`
	DueDate   string `json:"DueDate"`
	Reference string `json:"Reference"`
	Email     string `json:"Email"`
	Customer  *struct {
		Email string `json:"Email"`
		Name  string `json:"Name"`
	} `json:"Customer"`
}

var eventTypeByName = map[string]registry.EventType{
	"SubscriptionCreated":  registry.EventCreated,
	"SubscriptionRenewed":  registry.EventRenewed,
	"SubscriptionFailed":   registry.EventFailed,
	"SubscriptionCanceled": registry.EventCanceled,
	"SubscriptionExpired":  registry.EventExpired,
}

// Normalized is a boundary-normalized gateway event: the canonical ledger
// row plus transient correlation hints that are not part of the record.
type Normalized struct {
	Event *registry.PaymentEvent
	// PlanRef is the gateway's plan reference, used only to resolve the
	// profile's plan on first activation.
	PlanRef string
}

// Normalize decodes a raw webhook body into the canonical event shape.
// Structurally invalid JSON or missing correlation fields return
// ErrValidation; an unrecognized EventType yields an EventUnknown row to be
// quarantined (as long as it still correlates).
func Normalize(body []byte, receivedAt time.Time) (Normalized, error) {
	var p gatewayPayload
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return Normalized{}, fmt.Errorf("%w: decode payload: %v", ErrValidation, err)
	}

	email := strings.ToLower(strings.TrimSpace(p.Email))
	if email == "" && p.Customer != nil {
		email = strings.ToLower(strings.TrimSpace(p.Customer.Email))
	}

	subscriptionID := string(p.IDSubscription)
	transactionID := string(p.IDTransaction)
	if transactionID == "" {
		return Normalized{}, fmt.Errorf("%w: missing IdTransaction", ErrValidation)
	}
	if subscriptionID == "" && email == "" {
		return Normalized{}, fmt.Errorf("%w: missing IdSubscription and customer email", ErrValidation)
	}

	eventType, known := eventTypeByName[strings.TrimSpace(p.EventType)]
	if !known {
		eventType = registry.EventUnknown
	}

	status := p.Status
	if p.TransactionStatus != nil && p.TransactionStatus.ID != 0 {
		status = p.TransactionStatus.ID
	}

	amount := p.Amount
	if amount == 0 && p.AmountDetails != nil {
		amount = p.AmountDetails.TotalAmount
	}

	ev := &registry.PaymentEvent{
		EventType:      eventType,
		SubscriptionID: subscriptionID,
		TransactionID:  transactionID,
		Email:          email,
		AmountCents:    int64(math.Round(amount * 100)),
		Paid:           status == statusPaid,
		DueDate:        parseDueDate(p.DueDate, receivedAt),
		ReceivedAt:     receivedAt.UTC(),
	}
	return Normalized{Event: ev, PlanRef: strings.TrimSpace(p.Reference)}, nil
}

// parseDueDate accepts the gateway's date shapes; absent or unparseable
// dates fall back to one cycle after receipt (the gateway omits DueDate on
// some renewal payloads).
func parseDueDate(raw string, receivedAt time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		for _, layout := range []string{time.RFC3339, "2006-01-02", "02/01/2006"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC()
			}
		}
	}
	return receivedAt.UTC().Add(defaultCycle)
}
