package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/hirohirohiro3/marche-app-sub000/pkg/config"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"

	// MetadataOrderID correlates a payment intent with its order.
	MetadataOrderID = "orderId"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Client wraps Stripe's API client plus env-specific metadata.
type Client struct {
	api           *stripe.Client
	environment   string
	signingSecret string
	logg          *logger.Logger
}

// NewClient initializes Stripe once with the configured secrets and env.
// Both secrets are required; the payment component refuses to start without them.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	signingSecret := strings.TrimSpace(cfg.WebhookSecret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}

	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	if logg == nil {
		logg = logger.Nop()
	}
	logg.Info(ctx, fmt.Sprintf("stripe client initialized (%s)", env))

	return &Client{
		api:           stripe.NewClient(apiKey),
		environment:   env,
		signingSecret: signingSecret,
		logg:          logg,
	}, nil
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// IntentParams describes a destination charge for one order.
type IntentParams struct {
	OrderID        string
	Amount         int64
	Currency       string
	ApplicationFee int64
	Destination    string
}

// CreatePaymentIntent creates the intent with an idempotency key derived from
// the order, so repeated calls for one order return the same intent.
func (c *Client) CreatePaymentIntent(ctx context.Context, p IntentParams) (*stripe.PaymentIntent, error) {
	if c == nil || c.api == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client not initialized")
	}
	params := &stripe.PaymentIntentCreateParams{
		Amount:               stripe.Int64(p.Amount),
		Currency:             stripe.String(strings.ToLower(p.Currency)),
		ApplicationFeeAmount: stripe.Int64(p.ApplicationFee),
		TransferData: &stripe.PaymentIntentCreateTransferDataParams{
			Destination: stripe.String(p.Destination),
		},
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata(MetadataOrderID, p.OrderID)
	params.SetIdempotencyKey("pi-" + p.OrderID)

	intent, err := c.api.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, mapStripeError(err, "create payment intent")
	}
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"order_id":          p.OrderID,
		"payment_intent_id": intent.ID,
	})
	c.logg.Info(logCtx, "stripe payment intent created")
	return intent, nil
}

// ConstructEvent verifies the Stripe-Signature header over the raw payload.
func (c *Client) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	return VerifyEvent(payload, header, c.SigningSecret())
}

// VerifyEvent is ConstructEvent for an explicit secret. Signature failures
// map to CodeSignature and malformed payloads to CodeValidation.
func VerifyEvent(payload []byte, header, secret string) (stripe.Event, error) {
	if strings.TrimSpace(secret) == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook secret not configured")
	}
	if strings.TrimSpace(header) == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeSignature, "stripe signature missing")
	}
	event, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err == nil {
		return event, nil
	}
	switch {
	case errors.Is(err, webhook.ErrNotSigned),
		errors.Is(err, webhook.ErrNoValidSignature),
		errors.Is(err, webhook.ErrInvalidHeader),
		errors.Is(err, webhook.ErrTooOld):
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "verify stripe signature")
	default:
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse stripe event")
	}
}

func mapStripeError(err error, op string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return pkgerrors.Wrap(domainCodeForStatus(stripeErr.HTTPStatusCode), err, fmt.Sprintf("stripe %s failed", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("stripe %s failed", op))
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeIdempotency
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case http.StatusBadRequest, http.StatusPaymentRequired:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
