package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/iqcalorie/caloriebot/internal/billing"
	"github.com/iqcalorie/caloriebot/internal/cache"
	"github.com/iqcalorie/caloriebot/internal/flow"
	"github.com/iqcalorie/caloriebot/internal/messaging"
	"github.com/iqcalorie/caloriebot/internal/models"
	"github.com/iqcalorie/caloriebot/internal/profile"
	"github.com/iqcalorie/caloriebot/internal/store"
)

type noopSender struct{}

func (noopSender) SendMessage(ctx context.Context, to, body string) error { return nil }
func (noopSender) ValidateAndCanonicalizeRecipient(r string) (string, error) {
	return messaging.CanonicalizePhone(r)
}

type silentProcessor struct{}

func (silentProcessor) ProcessTurn(ctx context.Context, in models.InboundMessage) ([]string, error) {
	return nil, models.ErrUnauthorized
}

func newTestServer(t *testing.T) (*Server, *flow.AbuseTracker) {
	t.Helper()
	s := store.NewInMemoryStore()
	kv := cache.NewMemoryKV()
	profiles := profile.NewCache(s, kv)
	billingSvc, err := billing.NewService(s, profiles, noopSender{},
		billing.WithKeys("sk_test_x", "whsec_x"),
		billing.WithPrice("price_x"),
	)
	if err != nil {
		t.Fatal(err)
	}
	abuse := flow.NewAbuseTracker(kv)
	webhook := messaging.NewWebhookHandler(silentProcessor{}, noopSender{}, "")
	return NewServer(webhook, billingSvc, abuse), abuse
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestCheckoutRejectsBadBody(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/billing/checkout", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStripeWebhookRejectsUnsignedPayload(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/billing/webhook", strings.NewReader(`{"type":"checkout.session.completed"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsigned webhook should be rejected, got %d", rec.Code)
	}
}

func TestCompleteSetupRequiresSessionID(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"malformed body", "not json"},
		{"missing session_id", `{}`},
		{"empty session_id", `{"session_id":""}`},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/billing/complete-setup", strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, rec.Code)
		}
	}
}

func TestAbuseCountEndpoint(t *testing.T) {
	srv, abuse := newTestServer(t)
	ctx := context.Background()
	abuse.Record(ctx, "19998887777")
	abuse.Record(ctx, "19998887777")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/abuse/19998887777", nil))

	var body struct {
		Sender string `json:"sender"`
		Count  int64  `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 2 {
		t.Errorf("count = %d, want 2", body.Count)
	}
}

func TestTwilioWebhookMounted(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("From=whatsapp%3A%2B19998887777&Body=hi"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("webhook must always ack, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "<Message>") {
		t.Errorf("unauthorized sender must get empty TwiML: %q", rec.Body.String())
	}
}
