package domain

import "time"

// TransactionStatus is the reconciliation outcome recorded on a ledger row.
type TransactionStatus string

const (
	// StatusPendingValid: provisional settlement, amount matched the derived charge.
	StatusPendingValid TransactionStatus = "PENDING_VALID"
	// StatusPendingInvalid: provisional settlement, amount did not match.
	StatusPendingInvalid TransactionStatus = "PENDING_INVALID"
	// StatusSettled: final settlement, amount matched.
	StatusSettled TransactionStatus = "SETTLED"
	// StatusInvalid: final settlement, amount did not match.
	StatusInvalid TransactionStatus = "INVALID"
	// StatusMalformedData: the line item's reference did not resolve to an item.
	StatusMalformedData TransactionStatus = "MALFORMED_DATA"
	// StatusRefunded: produced by the refund matcher.
	StatusRefunded TransactionStatus = "REFUNDED"
	// StatusUserRevoked and StatusTransferred are terminal and produced only by
	// the revoke/transfer operations.
	StatusUserRevoked TransactionStatus = "USER_REVOKED"
	StatusTransferred TransactionStatus = "TRANSFERRED"
)

// CountsTowardSales reports whether a row contributes to the observed unit
// count used by count-tier pricing.
func (s TransactionStatus) CountsTowardSales() bool {
	return s == StatusSettled || s == StatusPendingValid
}

// LinkedNotificationKindIPN marks rows produced by a gateway notification.
// System-generated rows (direct sales, revokes, transfers) carry no kind.
const LinkedNotificationKindIPN = "ipn"

// LedgerTransaction is the unit of the ledger. Rows are append-only: once a
// row stops being the leaf of its lineage its financial fields are never
// touched again. Within a lineage at most one row has Leaf set.
type LedgerTransaction struct {
	ID                  string `json:"id"`
	ParentTransactionID string `json:"parent_transaction_id,omitempty"` // empty for lineage roots
	ItemID              string `json:"item_id,omitempty"`
	EventID             string `json:"event_id,omitempty"`
	OrganizationID      string `json:"organization_id,omitempty"`

	// PurchaserIdentity is the resolved user id, or empty for guest checkout,
	// in which case the guest fields carry whatever the gateway supplied.
	PurchaserIdentity string `json:"purchaser_identity,omitempty"`
	GivenName         string `json:"given_name,omitempty"`
	FamilyName        string `json:"family_name,omitempty"`
	Email             string `json:"email,omitempty"`

	LinkedNotificationID   string `json:"linked_notification_id,omitempty"`
	LinkedNotificationKind string `json:"linked_notification_kind,omitempty"`

	Status   TransactionStatus `json:"status"`
	Quantity int               `json:"quantity"`
	Amount   float64           `json:"amount"` // unit amount; raw line gross for MALFORMED_DATA rows
	Currency string            `json:"currency,omitempty"`
	Leaf     bool              `json:"leaf"`

	CreatedAt time.Time `json:"created_at"`
}
