package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quantpulse/reconciler/internal/config"
	"github.com/quantpulse/reconciler/internal/logger"
	"github.com/stripe/stripe-go/v82"
	"golang.org/x/time/rate"
)

// ErrProvider marks billing provider failures: unreachable API, unknown
// or invalid customer, malformed request.
var ErrProvider = errors.New("billing provider error")

// ChargeRecord is one normalized payment event for a customer. Amount is
// in major currency units (dollars, not cents). A record with Sentinel
// set represents a customer with zero charges; it carries customer
// identity only and must never reach the persisted ledger.
type ChargeRecord struct {
	CustomerID    string
	Email         string
	ChargeID      string
	Amount        float64
	Currency      string
	Status        string
	Disputed      bool
	Dispute       string
	Refunded      bool
	Created       time.Time
	Description   string
	PaymentMethod string
	Last4         string
	Sentinel      bool
}

// Client wraps the Stripe API for the reconciliation pipeline. A shared
// rate limiter enforces the fixed inter-customer delay toward the
// provider.
type Client struct {
	sc      *stripe.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// New creates a Client from the configured secret key and throttle.
func New(cfg config.StripeConfig, delay time.Duration, log *logger.Logger) *Client {
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return &Client{
		sc:      stripe.NewClient(cfg.SecretKey, nil),
		limiter: rate.NewLimiter(rate.Every(delay), 1),
		log:     log,
	}
}

// ChargesForCustomer retrieves every charge for one customer, paging
// through all results. A customer with zero charges yields exactly one
// sentinel record. The fetch is all-or-nothing: on error no partial
// results are returned.
func (c *Client) ChargesForCustomer(ctx context.Context, customerID string) ([]ChargeRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	customer, err := c.sc.V1Customers.Retrieve(ctx, customerID, nil)
	if err != nil {
		return nil, providerErr("retrieving customer %s", customerID, err)
	}

	return c.chargesFor(ctx, customer)
}

// ChargesForAllCustomers retrieves charges for every customer known to
// the provider, paging through the customer list. Backs the -full-scan
// mode of the reconciler binary.
func (c *Client) ChargesForAllCustomers(ctx context.Context) ([]ChargeRecord, error) {
	var records []ChargeRecord

	customers := c.sc.V1Customers.List(ctx, &stripe.CustomerListParams{})
	for customer, err := range customers {
		if err != nil {
			return nil, providerErr("listing customers", "", err)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		recs, err := c.chargesFor(ctx, customer)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}

	return records, nil
}

// HasActiveSubscription reports whether the customer has at least one
// subscription with status "active".
func (c *Client) HasActiveSubscription(ctx context.Context, customerID string) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
	}

	active, err := anyActiveSubscription(c.sc.V1Subscriptions.List(ctx, params))
	if err != nil {
		return false, providerErr("listing subscriptions for %s", customerID, err)
	}

	c.log.Debugw("subscription probe", "customer_id", customerID, "active", active)
	return active, nil
}

// anyActiveSubscription drains a subscription listing and reports
// whether any entry is active. A customer whose subscriptions are all
// lapsed or canceled yields false, not an error.
func anyActiveSubscription(subs func(func(*stripe.Subscription, error) bool)) (bool, error) {
	active := false
	for sub, err := range subs {
		if err != nil {
			return false, err
		}
		if sub.Status == stripe.SubscriptionStatusActive {
			active = true
		}
	}
	return active, nil
}

func (c *Client) chargesFor(ctx context.Context, customer *stripe.Customer) ([]ChargeRecord, error) {
	params := &stripe.ChargeListParams{
		Customer: stripe.String(customer.ID),
	}
	return collectCharges(customer, c.sc.V1Charges.List(ctx, params))
}

// collectCharges drains a charge listing into normalized records. The
// fetch is all-or-nothing: an error partway through the pages discards
// everything already read. A customer with zero charges yields exactly
// one sentinel record, preserving referential presence.
func collectCharges(customer *stripe.Customer, charges func(func(*stripe.Charge, error) bool)) ([]ChargeRecord, error) {
	var records []ChargeRecord
	for charge, err := range charges {
		if err != nil {
			return nil, providerErr("listing charges for %s", customer.ID, err)
		}
		records = append(records, newChargeRecord(customer, charge))
	}

	if len(records) == 0 {
		records = append(records, ChargeRecord{
			CustomerID: customer.ID,
			Email:      customer.Email,
			Sentinel:   true,
		})
	}

	return records, nil
}

// newChargeRecord flattens a Stripe charge into a ChargeRecord,
// converting the amount from minor to major currency units.
func newChargeRecord(customer *stripe.Customer, charge *stripe.Charge) ChargeRecord {
	rec := ChargeRecord{
		CustomerID:  customer.ID,
		Email:       customer.Email,
		ChargeID:    charge.ID,
		Amount:      float64(charge.Amount) / 100.0,
		Currency:    strings.ToUpper(string(charge.Currency)),
		Status:      string(charge.Status),
		Disputed:    charge.Disputed,
		Refunded:    charge.Refunded,
		Created:     time.Unix(charge.Created, 0).UTC(),
		Description: charge.Description,
	}

	if charge.Dispute != nil {
		rec.Dispute = charge.Dispute.ID
	}
	if charge.PaymentMethodDetails != nil && charge.PaymentMethodDetails.Card != nil {
		rec.PaymentMethod = string(charge.PaymentMethodDetails.Card.Brand)
		rec.Last4 = charge.PaymentMethodDetails.Card.Last4
	}

	return rec
}

func providerErr(format, id string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		err = fmt.Errorf("%s: %s", stripeErr.Type, stripeErr.Msg)
	}
	if id != "" {
		return fmt.Errorf("%w: "+format+": %v", ErrProvider, id, err)
	}
	return fmt.Errorf("%w: "+format+": %v", ErrProvider, err)
}
