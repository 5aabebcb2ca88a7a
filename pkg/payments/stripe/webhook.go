// Package stripe bridges Stripe webhook events into payment applications.
// Events must carry the contract ID and cycle start date in their metadata;
// Stripe knows nothing about billing cycles, so the checkout flow is expected
// to stamp that metadata when creating the payment.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/gymops/membill/pkg/membill"
	"github.com/gymops/membill/pkg/payments"
)

const (
	providerName = "stripe"
	dateLayout   = "2006-01-02"

	// metadata keys stamped onto payments at checkout time
	metadataContractID = "contract_id"
	metadataCycleStart = "cycle_start"

	defaultMaxBodyBytes = 256 * 1024
)

// Config holds webhook handler configuration
type Config struct {
	// WebhookSecret is the Stripe endpoint signing secret (required)
	WebhookSecret string

	// Applier applies verified payment events (required)
	Applier *payments.Applier

	// MaxBodyBytes caps the accepted payload size (default: 256 KiB)
	MaxBodyBytes int64

	// Logger is used for structured logging (default: NoopLogger)
	Logger membill.Logger
}

// Handler verifies and processes Stripe webhook deliveries
type Handler struct {
	config Config
}

// NewHandler creates a Stripe webhook handler
func NewHandler(config Config) (*Handler, error) {
	if config.WebhookSecret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	if config.Applier == nil {
		return nil, fmt.Errorf("applier is required")
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	if config.Logger == nil {
		config.Logger = &membill.NoopLogger{}
	}
	return &Handler{config: config}, nil
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.config.MaxBodyBytes+1))
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > h.config.MaxBodyBytes {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	event, err := stripe.ConstructEvent(body, sig, h.config.WebhookSecret)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.processEvent(r.Context(), &event); err != nil {
		h.config.Logger.Error("stripe webhook processing failed",
			membill.Field{Key: "event_type", Value: string(event.Type)},
			membill.Field{Key: "error", Value: err.Error()},
		)
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// processEvent routes a verified event. Event types and payments without the
// billing metadata are acknowledged and skipped; Stripe retrying them would
// never make them applicable.
func (h *Handler) processEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "payment_intent.succeeded":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return fmt.Errorf("failed to unmarshal payment intent: %w", err)
		}
		return h.applyPayment(ctx, event, intent.Metadata, intent.ID, intent.Amount, string(intent.Currency))

	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("failed to unmarshal checkout session: %w", err)
		}
		return h.applyPayment(ctx, event, session.Metadata, session.ID, session.AmountTotal, string(session.Currency))

	default:
		// Unknown event type - ignore silently
		return nil
	}
}

func (h *Handler) applyPayment(
	ctx context.Context, event *stripe.Event, metadata map[string]string,
	reference string, amount int64, currency string,
) error {
	contractID := metadata[metadataContractID]
	startRaw := metadata[metadataCycleStart]
	if contractID == "" || startRaw == "" {
		h.config.Logger.Warn("stripe payment without billing metadata skipped",
			membill.Field{Key: "reference", Value: reference},
		)
		return nil
	}

	cycleStart, err := time.Parse(dateLayout, startRaw)
	if err != nil {
		h.config.Logger.Warn("stripe payment with malformed cycle start skipped",
			membill.Field{Key: "reference", Value: reference},
			membill.Field{Key: "cycle_start", Value: startRaw},
		)
		return nil
	}

	return h.config.Applier.Apply(ctx, &payments.Event{
		ContractID: contractID,
		CycleStart: cycleStart,
		PaidAt:     time.Unix(event.Created, 0).UTC(),
		Amount:     amount,
		Currency:   currency,
		Reference:  reference,
		Provider:   providerName,
	})
}
