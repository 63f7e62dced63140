package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a row in the users table. The table is owned by the
// user-management service; this pipeline reads identity and referral
// columns and writes only IsActive.
type User struct {
	UserID               uuid.UUID  `gorm:"column:user_id;type:uuid;primaryKey"`
	Email                string     `gorm:"column:email;type:varchar(120);uniqueIndex;not null"`
	PasswordHash         string     `gorm:"column:password_hash;type:varchar(128);not null"`
	SignupDate           time.Time  `gorm:"column:signup_date;type:date;not null"`
	IsActive             bool       `gorm:"column:isactive;not null;default:false"`
	ActiveTill           *time.Time `gorm:"column:active_till;type:date"`
	Verified             bool       `gorm:"column:verified;not null;default:false"`
	StripeCustomerID     *string    `gorm:"column:stripe_customer_id;type:varchar(255)"`
	StripeSubscriptionID *string    `gorm:"column:stripe_subscription_id;type:varchar(255)"`
	Referee              *uuid.UUID `gorm:"column:referee;type:uuid"`
	CancelAtPeriodEnd    bool       `gorm:"column:cancel_at_period_end;not null;default:false"`
}

// TableName overrides the default pluralized name.
func (User) TableName() string { return "users" }

// Referral maps a referrer to their commission and discount fractions.
type Referral struct {
	UserID       uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	ReferralLink string    `gorm:"column:referral_link;type:varchar(50);uniqueIndex;not null"`
	Commission   float64   `gorm:"column:commission;not null;default:0.25"`
	Discount     float64   `gorm:"column:discount;not null;default:0.05"`
}

// TableName overrides the default pluralized name.
func (Referral) TableName() string { return "referrals" }

// CommissionTransaction is one row of the commission ledger, keyed by the
// Stripe charge id. Pointer fields are nullable columns. CommissionPaid
// and CommissionPaidTxID are owned by the downstream payout process and
// are never written by this pipeline.
type CommissionTransaction struct {
	ChargeID           string     `gorm:"column:charge_id;type:varchar(50);primaryKey"`
	UserID             *uuid.UUID `gorm:"column:user_id;type:uuid"`
	Referee            *uuid.UUID `gorm:"column:referee;type:uuid"`
	CustomerID         *string    `gorm:"column:customer_id;type:varchar(50)"`
	Email              *string    `gorm:"column:email;type:varchar(255)"`
	Amount             *float64   `gorm:"column:amount"`
	Currency           *string    `gorm:"column:currency;type:varchar(3)"`
	Status             *string    `gorm:"column:status;type:varchar(50)"`
	Notes              *string    `gorm:"column:notes;type:text"`
	Disputed           *bool      `gorm:"column:disputed"`
	Dispute            *string    `gorm:"column:dispute;type:text"`
	Refunded           *bool      `gorm:"column:refunded"`
	Created            *time.Time `gorm:"column:created"`
	Description        *string    `gorm:"column:description;type:text"`
	PaymentMethod      *string    `gorm:"column:payment_method;type:varchar(20)"`
	Last4              *string    `gorm:"column:last4;type:varchar(4)"`
	MaturesOn          *time.Time `gorm:"column:matures_on"`
	CommissionAmount   *float64   `gorm:"column:commission_amount"`
	CommissionPaid     bool       `gorm:"column:commission_paid;not null;default:false"`
	CommissionPaidTxID string     `gorm:"column:commission_paid_tx_id;type:text;not null;default:''"`
}

// TableName overrides the default pluralized name.
func (CommissionTransaction) TableName() string { return "commission_transactions" }

// CommissionTransactionColumns is the authoritative set of ledger column
// names. The upsert layer validates candidate rows against it before any
// write.
var CommissionTransactionColumns = map[string]struct{}{
	"charge_id":             {},
	"user_id":               {},
	"referee":               {},
	"customer_id":           {},
	"email":                 {},
	"amount":                {},
	"currency":              {},
	"status":                {},
	"notes":                 {},
	"disputed":              {},
	"dispute":               {},
	"refunded":              {},
	"created":               {},
	"description":           {},
	"payment_method":        {},
	"last4":                 {},
	"matures_on":            {},
	"commission_amount":     {},
	"commission_paid":       {},
	"commission_paid_tx_id": {},
}
