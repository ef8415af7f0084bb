package api

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/titanfed/titan/internal/billing"
	"github.com/titanfed/titan/internal/metrics"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// WebhookHandler ingests payment-gateway notifications. Safe2Pay does not
// sign deliveries, so the only transport check is an optional shared token.
type WebhookHandler struct {
	processor *billing.Processor
	token     string
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// NewWebhookHandler creates the gateway webhook HTTP handler. token is
// optional; when empty, deliveries are accepted unauthenticated.
func NewWebhookHandler(processor *billing.Processor, token string) *WebhookHandler {
	return &WebhookHandler{processor: processor, token: token}
}

// ServeHTTP normalizes the payload and hands it to the processor. Any
// syntactically valid delivery gets 200 regardless of processing outcome;
// the gateway retries on anything else, so 5xx is reserved for ledger
// write failures.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if gateway := r.PathValue("gateway"); gateway != "safe2pay" {
		status = http.StatusNotFound
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown gateway"})
		return
	}

	if h.token != "" && !h.tokenMatches(r) {
		status = http.StatusUnauthorized
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}

	normalized, err := billing.Normalize(payload, time.Now().UTC())
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid payload"})
		return
	}
	eventType = string(normalized.Event.EventType)

	result, err := h.processor.Process(r.Context(), normalized)
	if err != nil {
		if errors.Is(err, billing.ErrValidation) {
			status = http.StatusBadRequest
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid payload"})
			return
		}
		log.Error().Err(err).
			Str("event_type", eventType).
			Str("subscription_id", normalized.Event.SubscriptionID).
			Msg("Webhook processing failed")
		status = http.StatusInternalServerError
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "processing failed"})
		return
	}

	log.Info().
		Str("event_type", eventType).
		Str("subscription_id", result.Event.SubscriptionID).
		Str("transaction_id", result.Event.TransactionID).
		Str("outcome", string(result.Outcome)).
		Bool("duplicate", result.Duplicate).
		Msg("Webhook delivery processed")

	status = http.StatusOK
	writeJSON(w, http.StatusOK, webhookReceivedResponse{Received: true})
}

func (h *WebhookHandler) tokenMatches(r *http.Request) bool {
	candidate := strings.TrimSpace(r.Header.Get("X-Webhook-Token"))
	if candidate == "" {
		candidate = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(h.token)) == 1
}
