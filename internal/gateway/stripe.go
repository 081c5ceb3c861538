package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/rupeeflow/walletengine/internal/logging"
	"github.com/rupeeflow/walletengine/internal/money"
)

// StripeGateway funds wallet top-ups by charging a card through Stripe.
//
// The settlement Target carries the Stripe payment method ID. The payment
// intent is confirmed immediately; card flows that need 3DS come back as
// requires_action, which we surface as PENDING until Stripe's webhook or
// the reconciler resolves it.
type StripeGateway struct {
	api      *client.API
	currency string
}

// NewStripeGateway creates a Stripe-backed gateway.
func NewStripeGateway(apiKey, currency string) *StripeGateway {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeGateway{api: api, currency: currency}
}

func (g *StripeGateway) Submit(ctx context.Context, req Request) (*Result, error) {
	if req.Target == "" {
		return nil, fmt.Errorf("%w: missing payment method", ErrNotConfigured)
	}

	params := &stripe.PaymentIntentParams{
		Params:        stripe.Params{Context: ctx},
		Amount:        stripe.Int64(money.Units(req.Amount)),
		Currency:      stripe.String(g.currency),
		PaymentMethod: stripe.String(req.Target),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.AddMetadata("transaction_id", req.TransactionID)
	params.AddMetadata("owner_id", req.OwnerID)

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			// Card declines are definitive failures, not outages
			ref := req.TransactionID
			if stripeErr.PaymentIntent != nil {
				ref = stripeErr.PaymentIntent.ID
			}
			return &Result{
				Status:      StatusFailed,
				ExternalRef: ref,
				Message:     stripeErr.Msg,
			}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	result := &Result{
		Status:      mapStripeStatus(pi.Status),
		ExternalRef: pi.ID,
	}

	logging.L(ctx).Debug("stripe payment intent created",
		"transactionId", req.TransactionID,
		"paymentIntent", pi.ID,
		"status", string(pi.Status))

	return result, nil
}

func (g *StripeGateway) QueryStatus(ctx context.Context, externalRef string) (*Result, error) {
	pi, err := g.api.PaymentIntents.Get(externalRef, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return nil, ErrUnknownRef
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &Result{
		Status:      mapStripeStatus(pi.Status),
		ExternalRef: pi.ID,
	}, nil
}

func mapStripeStatus(s stripe.PaymentIntentStatus) string {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSuccess
	case stripe.PaymentIntentStatusCanceled,
		stripe.PaymentIntentStatusRequiresPaymentMethod:
		return StatusFailed
	default:
		// processing, requires_action, requires_confirmation, requires_capture
		return StatusPending
	}
}
