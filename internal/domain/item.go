package domain

import "time"

// CountTier is a pricing breakpoint keyed by the number of units already sold.
type CountTier struct {
	Threshold int     `json:"threshold"` // applies once more than Threshold units are sold
	Amount    float64 `json:"amount"`
}

// TimeTier is a pricing breakpoint keyed by a wall-clock cutoff.
type TimeTier struct {
	Cutoff time.Time `json:"cutoff"` // applies once the cutoff has passed
	Amount float64   `json:"amount"`
}

// Item is a purchasable unit owned by the catalog; the reconciliation engine
// only ever reads it. At most one tier list is expected to be populated; when
// both are, count tiers win. With neither, Amount applies.
type Item struct {
	ID             string  `json:"id"`
	EventID        string  `json:"event_id,omitempty"`
	OrganizationID string  `json:"organization_id,omitempty"`
	Name           string  `json:"name,omitempty"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency,omitempty"`

	CountTiers []CountTier `json:"count_tiers,omitempty"`
	TimeTiers  []TimeTier  `json:"time_tiers,omitempty"`
}

// Identity is the purchaser identity recovered through a correlation token.
type Identity struct {
	UserID     string `json:"user_id"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	Email      string `json:"email,omitempty"`
}

// CorrelationRecord maps the opaque token embedded at checkout time to the
// purchaser. Written once at checkout, read-only afterward.
type CorrelationRecord struct {
	Token     string    `json:"token"`
	Identity  Identity  `json:"identity"`
	CreatedAt time.Time `json:"created_at"`
}
