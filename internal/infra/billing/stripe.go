// Package billing reports metered usage to Stripe and cancels subscriptions
// of removed explorers.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// Config holds Stripe settings.
type Config struct {
	StripeSecretKey string        `yaml:"stripe_secret_key"`
	APIURL          string        `yaml:"api_url"` // override for stripe-mock
	Timeout         time.Duration `yaml:"timeout"`
}

// Enabled reports whether a secret key is configured.
func (c Config) Enabled() bool {
	return c.StripeSecretKey != ""
}

// Stripe wraps the Stripe API client.
type Stripe struct {
	api *client.API
	log *slog.Logger
}

// NewStripe creates a Stripe provider.
func NewStripe(cfg Config) *Stripe {
	logger := slog.Default().With("component", "stripe")

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		LeveledLogger:     &leveledLogger{log: logger},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}

	api := &client.API{}
	api.Init(cfg.StripeSecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	})
	return &Stripe{api: api, log: logger}
}

// SubscriptionItemID returns the id of the first item of a subscription,
// which is the metered price item for explorer plans.
func (s *Stripe) SubscriptionItemID(ctx context.Context, subscriptionID string) (string, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := s.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return "", fmt.Errorf("failed to get subscription %s: %w", subscriptionID, err)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return "", fmt.Errorf("subscription %s has no items", subscriptionID)
	}
	return sub.Items.Data[0].ID, nil
}

// ReportUsage increments the usage of a metered item. Stripe drops repeated
// requests with the same idempotency key.
func (s *Stripe) ReportUsage(ctx context.Context, itemID string, quantity int64, idempotencyKey string) error {
	params := &stripe.UsageRecordParams{
		SubscriptionItem: stripe.String(itemID),
		Quantity:         stripe.Int64(quantity),
		Action:           stripe.String(stripe.UsageRecordActionIncrement),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	if _, err := s.api.UsageRecords.New(params); err != nil {
		return fmt.Errorf("failed to create usage record: %w", err)
	}
	s.log.Debug("Usage reported", "item", itemID, "quantity", quantity, "idempotency_key", idempotencyKey)
	return nil
}

// CancelSubscription cancels a subscription immediately. A subscription
// Stripe no longer has, or one already canceled, counts as cancelled.
func (s *Stripe) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	_, err := s.api.Subscriptions.Cancel(subscriptionID, params)
	if err == nil {
		return nil
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
		s.log.Info("Subscription not found, nothing to cancel", "subscription_id", subscriptionID)
		return nil
	}

	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	if sub, getErr := s.api.Subscriptions.Get(subscriptionID, getParams); getErr == nil && sub.Status == stripe.SubscriptionStatusCanceled {
		s.log.Info("Subscription already canceled", "subscription_id", subscriptionID)
		return nil
	}
	return fmt.Errorf("failed to cancel subscription %s: %w", subscriptionID, err)
}

// leveledLogger routes stripe-go's logging into slog.
type leveledLogger struct {
	log *slog.Logger
}

func (l *leveledLogger) Debugf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Infof(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Warnf(format string, v ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Errorf(format string, v ...interface{}) {
	l.log.Error(fmt.Sprintf(format, v...))
}
