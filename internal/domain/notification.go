package domain

import "time"

// Canonical gateway payment statuses. The field is free text on the wire, so
// these are the values we dispatch on; anything else flows through untouched.
const (
	PaymentStatusPending   = "Pending"
	PaymentStatusCompleted = "Completed"
	PaymentStatusRefunded  = "Refunded"
)

// Canonical notification types, normalized from the gateway's txn_type field.
const (
	NotificationTypeCart               = "cart"
	NotificationTypeSubscriptionPay    = "subscription-payment"
	NotificationTypeSubscriptionSignup = "subscription-signup"
	NotificationTypeSubscriptionCancel = "subscription-cancel"
	NotificationTypeSubscriptionEnd    = "subscription-end"
)

// Notification is one accepted payment-gateway delivery. It is immutable once
// stored: a redelivery of the same (GatewayTxnID, PaymentStatus) pair is a
// duplicate and never produces a second record.
type Notification struct {
	ID                 string            `json:"id"`
	GatewayTxnID       string            `json:"gateway_txn_id"`
	ParentGatewayTxnID string            `json:"parent_gateway_txn_id,omitempty"` // set for refunds / subscription follow-ups
	PaymentStatus      string            `json:"payment_status"`
	NotificationType   string            `json:"notification_type"`
	CorrelationToken   string            `json:"correlation_token,omitempty"`
	GrossAmount        *float64          `json:"gross_amount,omitempty"` // nil when absent or unparseable
	CurrencyCode       string            `json:"currency_code,omitempty"`
	PayerEmail         string            `json:"payer_email,omitempty"`
	PayerFirstName     string            `json:"payer_first_name,omitempty"`
	PayerLastName      string            `json:"payer_last_name,omitempty"`
	Fields             map[string]string `json:"fields,omitempty"` // raw field bag, line-item keys removed
	Items              []ItemPayment     `json:"items,omitempty"`
	ReceivedAt         time.Time         `json:"received_at"`
}

// ItemPayment is the per-line-item breakdown of a notification. Numeric fields
// are pointers: an absent or unparseable value decodes to nil rather than an
// error, and amount verification downgrades the transaction status instead.
type ItemPayment struct {
	ItemName string   `json:"item_name,omitempty"`
	ItemRef  string   `json:"item_ref,omitempty"` // raw item reference, may not be a valid identifier
	Quantity int      `json:"quantity"`
	Gross    *float64 `json:"gross,omitempty"`
	Shipping *float64 `json:"shipping,omitempty"`
	Handling *float64 `json:"handling,omitempty"`
	Tax      *float64 `json:"tax,omitempty"`
}
