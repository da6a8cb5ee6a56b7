package payment

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeService handles Stripe payment operations for credit packs.
type StripeService struct {
	CreditsPriceID string
	WebhookSecret  string
	SiteURL        string
}

// Options configures the Stripe payment service.
type Options struct {
	APIKey         string
	CreditsPriceID string
	WebhookSecret  string
	SiteURL        string
}

// NewStripeService creates a new Stripe payment service
func NewStripeService(opts Options) *StripeService {
	// Initialize Stripe with the API key
	stripe.Key = opts.APIKey

	return &StripeService{
		CreditsPriceID: opts.CreditsPriceID,
		WebhookSecret:  opts.WebhookSecret,
		SiteURL:        opts.SiteURL,
	}
}

// Configured reports whether the service can create checkout sessions.
func (s *StripeService) Configured() bool {
	return stripe.Key != "" && s.CreditsPriceID != ""
}

// CreateCheckoutSession creates a one-time payment session for a pack of
// analysis credits. The credited amount travels in the session metadata and
// is applied by the webhook handler after payment completes.
func (s *StripeService) CreateCheckoutSession(userID string, credits int) (string, string, error) {
	if !s.Configured() {
		return "", "", fmt.Errorf("stripe is not configured")
	}
	if credits < 1 {
		return "", "", fmt.Errorf("credit pack must contain at least 1 credit, got %d", credits)
	}

	successURL := s.SiteURL + "/credits?checkout=success"
	cancelURL := s.SiteURL + "/credits?checkout=cancel"

	metadata := map[string]string{
		"user_id": userID,
		"credits": strconv.Itoa(credits),
	}

	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.CreditsPriceID),
				Quantity: stripe.Int64(int64(credits)),
			},
		},
		Metadata: metadata,
	}

	sess, err := session.New(params)
	if err != nil {
		return "", "", err
	}

	return sess.ID, sess.URL, nil
}

// VerifyWebhookSignature verifies the signature of a Stripe webhook event
func (s *StripeService) VerifyWebhookSignature(payload []byte, signature string) (*stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.WebhookSecret)
	return &event, err
}

// ProcessCreditPurchase extracts the purchaser and credit amount from a
// completed checkout event. Events of other types return ok=false.
func (s *StripeService) ProcessCreditPurchase(event *stripe.Event) (string, int, bool, error) {
	if event.Type != "checkout.session.completed" {
		return "", 0, false, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return "", 0, false, fmt.Errorf("failed to parse checkout session: %w", err)
	}

	userID, ok := sess.Metadata["user_id"]
	if !ok || userID == "" {
		return "", 0, false, fmt.Errorf("user_id not found in session metadata")
	}

	creditsStr, ok := sess.Metadata["credits"]
	if !ok {
		return "", 0, false, fmt.Errorf("credits not found in session metadata")
	}
	credits, err := strconv.Atoi(creditsStr)
	if err != nil || credits < 1 {
		return "", 0, false, fmt.Errorf("invalid credits value %q", creditsStr)
	}

	return userID, credits, true, nil
}
