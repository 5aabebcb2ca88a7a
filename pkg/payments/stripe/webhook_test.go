package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/gymops/membill/pkg/membill"
	"github.com/gymops/membill/pkg/payments"
	"github.com/gymops/membill/storage/memory"
)

const testSecret = "whsec_test"

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestHandler(t *testing.T) (*Handler, *memory.Storage) {
	t.Helper()

	storage := memory.New()
	applier, err := payments.NewApplier(storage, payments.Config{})
	if err != nil {
		t.Fatalf("NewApplier failed: %v", err)
	}

	handler, err := NewHandler(Config{
		WebhookSecret: testSecret,
		Applier:       applier,
	})
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}

	inserted, err := storage.InsertCycle(context.Background(), &membill.BillingCycle{
		ContractID: "contract-1",
		MemberID:   "member-1",
		CycleStart: date(2025, 1, 1),
		CycleEnd:   date(2025, 1, 31),
		DueDate:    date(2025, 1, 1),
		Status:     membill.CycleUnpaid,
	})
	if err != nil || !inserted {
		t.Fatalf("seed cycle failed: inserted=%v err=%v", inserted, err)
	}

	return handler, storage
}

func paymentIntentEvent(t *testing.T, metadata map[string]string) *stripe.Event {
	t.Helper()

	raw, err := json.Marshal(map[string]any{
		"id":       "pi_123",
		"amount":   4999,
		"currency": "eur",
		"metadata": metadata,
	})
	if err != nil {
		t.Fatalf("marshal payment intent: %v", err)
	}

	return &stripe.Event{
		Type:    "payment_intent.succeeded",
		Created: date(2025, 2, 3).Unix(),
		Data:    &stripe.EventData{Raw: raw},
	}
}

func TestProcessEvent_PaymentIntentSucceeded(t *testing.T) {
	handler, storage := newTestHandler(t)

	event := paymentIntentEvent(t, map[string]string{
		"contract_id": "contract-1",
		"cycle_start": "2025-01-01",
	})
	if err := handler.processEvent(context.Background(), event); err != nil {
		t.Fatalf("processEvent failed: %v", err)
	}

	cycle := storage.Cycles("contract-1")[0]
	if cycle.Status != membill.CyclePaid {
		t.Errorf("status: got %q, want paid", cycle.Status)
	}
	if cycle.LastPaymentDate == nil || !cycle.LastPaymentDate.Equal(date(2025, 2, 3)) {
		t.Errorf("last payment date: got %v, want 2025-02-03", cycle.LastPaymentDate)
	}
}

func TestProcessEvent_MissingMetadataSkipped(t *testing.T) {
	handler, storage := newTestHandler(t)

	// No billing metadata: acknowledged without touching any cycle.
	if err := handler.processEvent(context.Background(), paymentIntentEvent(t, nil)); err != nil {
		t.Fatalf("processEvent failed: %v", err)
	}

	if got := storage.Cycles("contract-1")[0].Status; got != membill.CycleUnpaid {
		t.Errorf("status: got %q, want untouched unpaid", got)
	}
}

func TestProcessEvent_MalformedCycleStartSkipped(t *testing.T) {
	handler, storage := newTestHandler(t)

	event := paymentIntentEvent(t, map[string]string{
		"contract_id": "contract-1",
		"cycle_start": "January 1st",
	})
	if err := handler.processEvent(context.Background(), event); err != nil {
		t.Fatalf("processEvent failed: %v", err)
	}

	if got := storage.Cycles("contract-1")[0].Status; got != membill.CycleUnpaid {
		t.Errorf("status: got %q, want untouched unpaid", got)
	}
}

func TestProcessEvent_UnknownCycleFails(t *testing.T) {
	handler, _ := newTestHandler(t)

	event := paymentIntentEvent(t, map[string]string{
		"contract_id": "contract-1",
		"cycle_start": "2025-06-01",
	})
	err := handler.processEvent(context.Background(), event)
	if err == nil {
		t.Fatal("expected error for unknown cycle")
	}
}

func TestProcessEvent_UnknownEventTypeIgnored(t *testing.T) {
	handler, _ := newTestHandler(t)

	event := &stripe.Event{
		Type: "customer.created",
		Data: &stripe.EventData{Raw: json.RawMessage(`{}`)},
	}
	if err := handler.processEvent(context.Background(), event); err != nil {
		t.Fatalf("processEvent failed: %v", err)
	}
}

// signPayload builds a Stripe-Signature header for the payload.
func signPayload(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func webhookPayload(t *testing.T) []byte {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"id":      "evt_123",
		"type":    "payment_intent.succeeded",
		"created": date(2025, 2, 3).Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":       "pi_123",
				"amount":   4999,
				"currency": "eur",
				"metadata": map[string]string{
					"contract_id": "contract-1",
					"cycle_start": "2025-01-01",
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return payload
}

func TestServeHTTP_ValidSignature(t *testing.T) {
	handler, storage := newTestHandler(t)
	payload := webhookPayload(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", signPayload(payload, testSecret, time.Now()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if got := storage.Cycles("contract-1")[0].Status; got != membill.CyclePaid {
		t.Errorf("status: got %q, want paid", got)
	}
}

func TestServeHTTP_InvalidSignature(t *testing.T) {
	handler, storage := newTestHandler(t)
	payload := webhookPayload(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", signPayload(payload, "whsec_other", time.Now()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rec.Code)
	}
	if got := storage.Cycles("contract-1")[0].Status; got != membill.CycleUnpaid {
		t.Errorf("status: got %q, want untouched unpaid", got)
	}
}

func TestServeHTTP_MissingSignature(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rec.Code)
	}
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status: got %d, want 405", rec.Code)
	}
}

func TestNewHandler_Validation(t *testing.T) {
	applier, err := payments.NewApplier(memory.New(), payments.Config{})
	if err != nil {
		t.Fatalf("NewApplier failed: %v", err)
	}

	if _, err := NewHandler(Config{Applier: applier}); err == nil {
		t.Error("expected error for missing webhook secret")
	}
	if _, err := NewHandler(Config{WebhookSecret: testSecret}); err == nil {
		t.Error("expected error for missing applier")
	}
}
