// Package billing handles subscription onboarding through Stripe.
//
// Checkout is the only way a profile comes into existence: completing a
// checkout session creates the user row, which in turn authorizes the phone
// number for the conversational surface.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v72"
	checkoutsession "github.com/stripe/stripe-go/v72/checkout/session"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/iqcalorie/caloriebot/internal/messaging"
	"github.com/iqcalorie/caloriebot/internal/models"
	"github.com/iqcalorie/caloriebot/internal/profile"
	"github.com/iqcalorie/caloriebot/internal/store"
)

// trialDays is the free trial attached to every new subscription.
const trialDays = 3

// Opts holds configuration options for the billing service.
type Opts struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
	SuccessURL    string
	CancelURL     string
}

// Option defines a configuration option for the billing service.
type Option func(*Opts)

// WithKeys sets the Stripe API secret and webhook signing secret.
func WithKeys(secret, webhookSecret string) Option {
	return func(o *Opts) { o.SecretKey = secret; o.WebhookSecret = webhookSecret }
}

// WithPrice sets the subscription price ID.
func WithPrice(priceID string) Option {
	return func(o *Opts) { o.PriceID = priceID }
}

// WithRedirects sets the post-checkout redirect URLs.
func WithRedirects(successURL, cancelURL string) Option {
	return func(o *Opts) { o.SuccessURL = successURL; o.CancelURL = cancelURL }
}

// Service creates checkout sessions and turns completed ones into profiles.
type Service struct {
	store         store.Store
	profiles      *profile.Cache
	messenger     messaging.Service
	webhookSecret string
	priceID       string
	successURL    string
	cancelURL     string
}

// NewService wires the billing service and sets the global Stripe key.
func NewService(s store.Store, profiles *profile.Cache, messenger messaging.Service, opts ...Option) (*Service, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key not set")
	}
	if cfg.PriceID == "" {
		return nil, fmt.Errorf("stripe price ID not set")
	}
	stripe.Key = cfg.SecretKey
	return &Service{
		store:         s,
		profiles:      profiles,
		messenger:     messenger,
		webhookSecret: cfg.WebhookSecret,
		priceID:       cfg.PriceID,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}, nil
}

// CreateCheckoutSession starts a subscription checkout with a trial and
// phone collection, and returns the hosted checkout URL. The checkout key
// rides the session metadata so the completion webhook can carry over any
// onboarding answers keyed on it.
func (s *Service) CreateCheckoutSession(checkoutKey string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(s.priceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(trialDays),
		},
		PhoneNumberCollection: &stripe.CheckoutSessionPhoneNumberCollectionParams{
			Enabled: stripe.Bool(true),
		},
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
	}
	params.AddMetadata("checkout_key", checkoutKey)

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	slog.Info("Billing created checkout session", "session_id", sess.ID, "checkout_key", checkoutKey)
	return sess.URL, nil
}

// CompleteUserSetup turns a completed checkout session into an authorized
// profile. The collected phone number is the identity of record; a checkout
// without one cannot be wired to WhatsApp and is surfaced as an error.
func (s *Service) CompleteUserSetup(ctx context.Context, sessionID string) error {
	sess, err := checkoutsession.Get(sessionID, nil)
	if err != nil {
		return fmt.Errorf("failed to retrieve checkout session %s: %w", sessionID, err)
	}
	if sess.CustomerDetails == nil || sess.CustomerDetails.Phone == "" {
		return fmt.Errorf("checkout session %s has no collected phone number", sessionID)
	}

	phone, err := s.messenger.ValidateAndCanonicalizeRecipient(sess.CustomerDetails.Phone)
	if err != nil {
		return fmt.Errorf("checkout session %s phone unusable: %w", sessionID, err)
	}

	p := models.UserProfile{
		Phone:     phone,
		FirstName: firstName(sess.CustomerDetails.Name),
		Email:     sess.CustomerDetails.Email,
		Goals:     models.DefaultGoals,
		CreatedAt: time.Now(),
	}
	if goal := sess.Metadata["fitness_goal"]; goal != "" {
		p.FitnessGoal = goal
		p.Goals = GoalsForFitness(goal)
	}
	if diet := sess.Metadata["diet_preference"]; diet != "" {
		p.DietPreference = diet
	}
	if sess.Customer != nil {
		p.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		p.SubscriptionID = sess.Subscription.ID
	}

	if err := s.store.UpsertProfile(p); err != nil {
		return fmt.Errorf("failed to create profile for %s: %w", phone, err)
	}
	s.profiles.Invalidate(ctx, phone)
	slog.Info("Billing completed user setup", "phone", phone, "customer_id", p.CustomerID)

	if err := s.messenger.SendMessage(ctx, phone, WelcomeMessage(&p)); err != nil {
		// The account exists either way; the user just starts the
		// conversation themselves.
		slog.Error("Billing failed to send welcome message", "error", err, "phone", phone)
	}
	return nil
}

// HandleWebhookEvent verifies and dispatches one Stripe webhook delivery.
func (s *Service) HandleWebhookEvent(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return fmt.Errorf("webhook signature verification failed: %w", err)
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("failed to parse checkout session event: %w", err)
		}
		return s.CompleteUserSetup(ctx, sess.ID)
	default:
		slog.Debug("Billing ignoring webhook event", "type", event.Type)
		return nil
	}
}

// GoalsForFitness derives daily goals from a stated fitness goal: the
// default calorie target shifted 300 kcal down for weight loss or up for
// muscle gain.
func GoalsForFitness(goal string) models.Macros {
	g := models.DefaultGoals
	switch {
	case containsAny(goal, "lose", "cut", "deficit"):
		g.Kcal -= 300
	case containsAny(goal, "gain", "muscle", "bulk"):
		g.Kcal += 300
	}
	return g
}

// WelcomeMessage is the first message a new subscriber receives.
func WelcomeMessage(p *models.UserProfile) string {
	name := p.FirstName
	if name == "" {
		name = "there"
	}
	goals := p.GoalsOrDefault()
	return fmt.Sprintf(`🎉 Welcome to IQCalorie, %s!

I'm your personal nutrition coach on WhatsApp. Here's your daily plan:

🔥 Calories: %d kcal
🥩 Protein: %d g
🥔 Carbs: %d g
🧈 Fats: %d g

Just tell me what you eat (text, photo, or voice note) and I'll track everything for you. Try it now: what was your last meal? 🍽️`,
		name, goals.Kcal, goals.Prot, goals.Carb, goals.Fat)
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func containsAny(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
