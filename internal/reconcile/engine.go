// Package reconcile turns decoded gateway notifications into ledger
// transactions. It owns the idempotency guard, the purchase state machine and
// the refund matcher. Business-rule violations (amount mismatch, unknown
// item) are recorded as transaction statuses, never returned as errors, so
// they stay queryable after the fact; only storage failures abort a
// notification, and those are safe to retry because nothing was committed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/avolkov/ticketline/internal/domain"
	"github.com/avolkov/ticketline/internal/ipn"
	"github.com/avolkov/ticketline/internal/pricing"
	"github.com/avolkov/ticketline/internal/store"
)

// amountTolerance is the absolute currency-unit tolerance for amount
// verification. It absorbs float rounding across currencies; do not tighten
// it without re-validating existing fixtures.
const amountTolerance = 0.01

// OutcomeKind classifies what processing a notification did.
type OutcomeKind string

const (
	// OutcomeApplied: new ledger transactions were created.
	OutcomeApplied OutcomeKind = "applied"
	// OutcomeDuplicate: the delivery was already processed; nothing written.
	OutcomeDuplicate OutcomeKind = "duplicate"
	// OutcomePromoted: a final settlement promoted existing provisional rows.
	OutcomePromoted OutcomeKind = "promoted"
	// OutcomeRefundApplied: refund rows were appended to the parent lineage.
	OutcomeRefundApplied OutcomeKind = "refund_applied"
	// OutcomeRefundUnresolved: the refund could not be matched unambiguously;
	// nothing was written.
	OutcomeRefundUnresolved OutcomeKind = "refund_unresolved"
)

// Outcome is the result of processing one notification.
type Outcome struct {
	Kind         OutcomeKind                 `json:"kind"`
	Notification *domain.Notification        `json:"notification,omitempty"`
	Transactions []*domain.LedgerTransaction `json:"transactions,omitempty"`
}

// Engine is the reconciliation state machine. It is safe to invoke
// concurrently for different notifications; identical deliveries are fenced
// by the store's uniqueness constraint.
type Engine struct {
	ledger       store.LedgerStore
	items        store.ItemStore
	correlations store.CorrelationStore
	log          zerolog.Logger

	now   func() time.Time
	newID func() string
}

// NewEngine creates an engine over the given stores.
func NewEngine(ledger store.LedgerStore, items store.ItemStore, correlations store.CorrelationStore, log zerolog.Logger) *Engine {
	return &Engine{
		ledger:       ledger,
		items:        items,
		correlations: correlations,
		log:          log,
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
	}
}

// DecodeAndReconcile decodes a raw webhook body and processes it. This is the
// entry point the webhook worker uses.
func (e *Engine) DecodeAndReconcile(ctx context.Context, body url.Values) (*Outcome, error) {
	n, err := ipn.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("DecodeAndReconcile: %w", err)
	}
	return e.Process(ctx, n)
}

// Process runs one decoded notification through the guard and state machine.
func (e *Engine) Process(ctx context.Context, n *domain.Notification) (*Outcome, error) {
	if n.ID == "" {
		n.ID = e.newID()
	}
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = e.now()
	}

	// Idempotency guard: an exact (gateway txn id, status) match means the
	// gateway redelivered after a timeout. Drop without side effects.
	_, err := e.ledger.FindNotification(ctx, n.GatewayTxnID, n.PaymentStatus)
	if err == nil {
		e.log.Info().
			Str("gateway_txn_id", n.GatewayTxnID).
			Str("payment_status", n.PaymentStatus).
			Msg("Duplicate delivery dropped")
		return &Outcome{Kind: OutcomeDuplicate, Notification: n}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("Process: duplicate check: %w", err)
	}

	if n.PaymentStatus == domain.PaymentStatusRefunded {
		return e.matchRefund(ctx, n)
	}

	if n.PaymentStatus == domain.PaymentStatusCompleted {
		outcome, handled, err := e.promote(ctx, n)
		if err != nil {
			return nil, err
		}
		if handled {
			return outcome, nil
		}
	}

	return e.applyPurchase(ctx, n)
}

// promote detects the provisional-to-final settlement pattern: a Completed
// delivery for a gateway txn that already has a Pending record. The rows
// created for the Pending record are promoted in place; no new rows are
// created. Returns handled=false when this is not a promotion.
func (e *Engine) promote(ctx context.Context, n *domain.Notification) (*Outcome, bool, error) {
	pending, err := e.ledger.FindNotification(ctx, n.GatewayTxnID, domain.PaymentStatusPending)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("promote: pending lookup: %w", err)
	}

	linked, err := e.ledger.ListByLinkedNotification(ctx, pending.ID)
	if err != nil {
		return nil, false, fmt.Errorf("promote: listing pending transactions: %w", err)
	}
	if len(linked) == 0 {
		// A Pending notification with no ledger rows should not happen; log
		// the anomaly and fall through to a fresh purchase.
		e.log.Warn().
			Str("gateway_txn_id", n.GatewayTxnID).
			Str("pending_notification_id", pending.ID).
			Msg("Pending notification has no linked transactions, treating final settlement as fresh purchase")
		return nil, false, nil
	}

	updates := make(map[string]domain.TransactionStatus)
	for _, t := range linked {
		switch t.Status {
		case domain.StatusPendingValid:
			updates[t.ID] = domain.StatusSettled
			t.Status = domain.StatusSettled
		case domain.StatusPendingInvalid:
			updates[t.ID] = domain.StatusInvalid
			t.Status = domain.StatusInvalid
		}
	}

	err = e.ledger.PromoteNotification(ctx, n, updates)
	if errors.Is(err, store.ErrDuplicateNotification) {
		return &Outcome{Kind: OutcomeDuplicate, Notification: n}, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("promote: %w", err)
	}

	e.log.Info().
		Str("gateway_txn_id", n.GatewayTxnID).
		Int("promoted", len(updates)).
		Msg("Provisional settlement promoted to final")
	return &Outcome{Kind: OutcomePromoted, Notification: n, Transactions: linked}, true, nil
}

// applyPurchase converts each line item into a ledger transaction and
// persists the whole batch atomically.
func (e *Engine) applyPurchase(ctx context.Context, n *domain.Notification) (*Outcome, error) {
	buyer, err := e.resolvePurchaser(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("applyPurchase: %w", err)
	}
	parentTxID, err := e.resolveParentTransaction(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("applyPurchase: %w", err)
	}

	txns := make([]*domain.LedgerTransaction, 0, len(n.Items))
	for i := range n.Items {
		t, err := e.buildTransaction(ctx, n, &n.Items[i], buyer, parentTxID)
		if err != nil {
			return nil, fmt.Errorf("applyPurchase: %w", err)
		}
		txns = append(txns, t)
	}

	err = e.ledger.ApplyNotification(ctx, n, txns)
	if errors.Is(err, store.ErrDuplicateNotification) {
		// Lost the race against a concurrent duplicate delivery.
		e.log.Info().
			Str("gateway_txn_id", n.GatewayTxnID).
			Str("payment_status", n.PaymentStatus).
			Msg("Duplicate delivery detected at commit")
		return &Outcome{Kind: OutcomeDuplicate, Notification: n}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("applyPurchase: persisting batch: %w", err)
	}

	e.log.Info().
		Str("gateway_txn_id", n.GatewayTxnID).
		Str("payment_status", n.PaymentStatus).
		Int("transactions", len(txns)).
		Msg("Notification reconciled")
	return &Outcome{Kind: OutcomeApplied, Notification: n, Transactions: txns}, nil
}

// buildTransaction prices and verifies one line item. An unresolvable item
// reference yields a MALFORMED_DATA row and does not disturb sibling lines.
func (e *Engine) buildTransaction(ctx context.Context, n *domain.Notification, p *domain.ItemPayment, buyer purchaser, parentTxID string) (*domain.LedgerTransaction, error) {
	t := &domain.LedgerTransaction{
		ID:                     e.newID(),
		ParentTransactionID:    parentTxID,
		PurchaserIdentity:      buyer.userID,
		GivenName:              buyer.givenName,
		FamilyName:             buyer.familyName,
		Email:                  buyer.email,
		LinkedNotificationID:   n.ID,
		LinkedNotificationKind: domain.LinkedNotificationKindIPN,
		Quantity:               p.Quantity,
		Currency:               n.CurrencyCode,
		Leaf:                   true,
		CreatedAt:              e.now(),
	}

	itemID, parseErr := uuid.Parse(p.ItemRef)
	if parseErr != nil {
		return e.malformed(t, p), nil
	}

	item, err := e.items.GetItem(ctx, itemID.String())
	if errors.Is(err, store.ErrNotFound) {
		t.ItemID = itemID.String()
		return e.malformed(t, p), nil
	}
	if err != nil {
		return nil, fmt.Errorf("buildTransaction: item lookup: %w", err)
	}

	t.ItemID = item.ID
	t.EventID = item.EventID
	t.OrganizationID = item.OrganizationID

	expected, err := e.expectedCharge(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("buildTransaction: %w", err)
	}

	valid := p.Gross != nil && math.Abs(*p.Gross-expected*float64(p.Quantity)) < amountTolerance
	isPending := n.PaymentStatus == domain.PaymentStatusPending
	switch {
	case isPending && valid:
		t.Status = domain.StatusPendingValid
	case isPending:
		t.Status = domain.StatusPendingInvalid
	case valid:
		t.Status = domain.StatusSettled
	default:
		t.Status = domain.StatusInvalid
	}

	// The ledger records the unit amount actually paid, so that
	// quantity x amount reproduces the line gross.
	switch {
	case p.Gross != nil && p.Quantity > 0:
		t.Amount = *p.Gross / float64(p.Quantity)
	case p.Gross != nil:
		t.Amount = *p.Gross
	}
	return t, nil
}

// malformed finishes a row for a line item whose reference never resolved.
// The raw gross is kept verbatim; no pricing or verification applies.
func (e *Engine) malformed(t *domain.LedgerTransaction, p *domain.ItemPayment) *domain.LedgerTransaction {
	t.Status = domain.StatusMalformedData
	if p.Gross != nil {
		t.Amount = *p.Gross
	}
	return t
}

// expectedCharge derives the charge that should apply to the item right now.
// Exactly one tier list is consulted; count tiers win if both are populated.
func (e *Engine) expectedCharge(ctx context.Context, item *domain.Item) (float64, error) {
	if len(item.CountTiers) > 0 {
		rows, err := e.ledger.ListByItem(ctx, item.ID)
		if err != nil {
			return 0, fmt.Errorf("expectedCharge: listing item sales: %w", err)
		}
		observed := 0
		for _, r := range rows {
			if r.Status.CountsTowardSales() {
				observed += r.Quantity
			}
		}
		return pricing.PriceForCount(item, observed), nil
	}
	if len(item.TimeTiers) > 0 {
		return pricing.PriceForTime(item, e.now()), nil
	}
	return item.Amount, nil
}

// purchaser holds the resolved identity for a notification.
type purchaser struct {
	userID     string
	givenName  string
	familyName string
	email      string
}

// resolvePurchaser recovers identity through the correlation token, falling
// back to the gateway's payer fields for guest checkout.
func (e *Engine) resolvePurchaser(ctx context.Context, n *domain.Notification) (purchaser, error) {
	if n.CorrelationToken != "" {
		rec, err := e.correlations.GetCorrelation(ctx, n.CorrelationToken)
		if err == nil {
			return purchaser{
				userID:     rec.Identity.UserID,
				givenName:  rec.Identity.GivenName,
				familyName: rec.Identity.FamilyName,
				email:      rec.Identity.Email,
			}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return purchaser{}, fmt.Errorf("resolvePurchaser: %w", err)
		}
	}
	return purchaser{
		givenName:  n.PayerFirstName,
		familyName: n.PayerLastName,
		email:      n.PayerEmail,
	}, nil
}

// resolveParentTransaction follows parent_txn_id to the ledger row created
// for the parent notification. An unresolvable parent is not an error: the
// new transaction simply becomes a lineage root.
func (e *Engine) resolveParentTransaction(ctx context.Context, n *domain.Notification) (string, error) {
	if n.ParentGatewayTxnID == "" {
		return "", nil
	}
	parent, err := e.ledger.FindNotificationByGatewayTxn(ctx, n.ParentGatewayTxnID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolveParentTransaction: %w", err)
	}
	linked, err := e.ledger.ListByLinkedNotification(ctx, parent.ID)
	if err != nil {
		return "", fmt.Errorf("resolveParentTransaction: %w", err)
	}
	if len(linked) == 0 {
		return "", nil
	}
	return linked[0].ID, nil
}

// AppendChild appends a system-generated revoke or transfer record to a
// lineage. The parent must be the current leaf; the store flips its flag in
// the same write that inserts the child.
func (e *Engine) AppendChild(ctx context.Context, parentID string, status domain.TransactionStatus) (*domain.LedgerTransaction, error) {
	if status != domain.StatusUserRevoked && status != domain.StatusTransferred {
		return nil, fmt.Errorf("AppendChild: status %s cannot be appended", status)
	}
	parent, err := e.ledger.GetTransaction(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("AppendChild: %w", err)
	}
	if !parent.Leaf {
		return nil, fmt.Errorf("AppendChild: transaction %s is not the lineage leaf", parentID)
	}

	child := &domain.LedgerTransaction{
		ID:                  e.newID(),
		ParentTransactionID: parent.ID,
		ItemID:              parent.ItemID,
		EventID:             parent.EventID,
		OrganizationID:      parent.OrganizationID,
		PurchaserIdentity:   parent.PurchaserIdentity,
		GivenName:           parent.GivenName,
		FamilyName:          parent.FamilyName,
		Email:               parent.Email,
		Status:              status,
		Quantity:            parent.Quantity,
		Amount:              parent.Amount,
		Currency:            parent.Currency,
		Leaf:                true,
		CreatedAt:           e.now(),
	}
	if err := e.ledger.AppendChild(ctx, child); err != nil {
		return nil, fmt.Errorf("AppendChild: %w", err)
	}

	e.log.Info().
		Str("parent_transaction_id", parent.ID).
		Str("status", string(status)).
		Msg("Lineage child appended")
	return child, nil
}
