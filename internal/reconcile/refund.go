package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/avolkov/ticketline/internal/domain"
	"github.com/avolkov/ticketline/internal/store"
)

// matchRefund resolves a refund notification against the lineage it refunds.
// The acceptance rule is deliberately conservative: with more than one
// candidate row, the refunded gross must account for all of them within the
// amount tolerance, otherwise nothing is written and the case is surfaced as
// unresolved rather than guessing an allocation.
func (e *Engine) matchRefund(ctx context.Context, n *domain.Notification) (*Outcome, error) {
	unresolved := func(reason string) *Outcome {
		e.log.Warn().
			Str("gateway_txn_id", n.GatewayTxnID).
			Str("parent_gateway_txn_id", n.ParentGatewayTxnID).
			Str("reason", reason).
			Msg("Refund left unresolved")
		return &Outcome{Kind: OutcomeRefundUnresolved, Notification: n}
	}

	if n.ParentGatewayTxnID == "" {
		return unresolved("refund carries no parent transaction id"), nil
	}

	parent, err := e.ledger.FindNotificationByGatewayTxn(ctx, n.ParentGatewayTxnID)
	if errors.Is(err, store.ErrNotFound) {
		return unresolved("parent notification unknown"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("matchRefund: parent lookup: %w", err)
	}

	candidates, err := e.ledger.ListByLinkedNotification(ctx, parent.ID)
	if err != nil {
		return nil, fmt.Errorf("matchRefund: listing candidates: %w", err)
	}
	if len(candidates) == 0 {
		return unresolved("parent notification has no ledger transactions"), nil
	}

	refunded := 0.0
	if n.GrossAmount != nil {
		refunded = math.Abs(*n.GrossAmount)
	}

	if len(candidates) > 1 {
		if n.GrossAmount == nil {
			return unresolved("multiple candidates and no refund gross"), nil
		}
		total := 0.0
		for _, c := range candidates {
			total += float64(c.Quantity) * c.Amount
		}
		if math.Abs(refunded-total) >= amountTolerance {
			return unresolved(fmt.Sprintf("refund gross %.2f matches neither one candidate nor the candidate total %.2f", refunded, total)), nil
		}
	}

	buyer, err := e.resolvePurchaser(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("matchRefund: %w", err)
	}

	txns := make([]*domain.LedgerTransaction, 0, len(candidates))
	for _, c := range candidates {
		amount := c.Amount
		if len(candidates) == 1 && n.GrossAmount != nil {
			// Unambiguous refund: record the refunded unit amount even when it
			// differs from what was originally charged (partial refunds).
			if c.Quantity > 0 {
				amount = refunded / float64(c.Quantity)
			} else {
				amount = refunded
			}
		}
		txns = append(txns, &domain.LedgerTransaction{
			ID:                     e.newID(),
			ParentTransactionID:    c.ID,
			ItemID:                 c.ItemID,
			EventID:                c.EventID,
			OrganizationID:         c.OrganizationID,
			PurchaserIdentity:      buyer.userID,
			GivenName:              buyer.givenName,
			FamilyName:             buyer.familyName,
			Email:                  buyer.email,
			LinkedNotificationID:   n.ID,
			LinkedNotificationKind: domain.LinkedNotificationKindIPN,
			Status:                 domain.StatusRefunded,
			Quantity:               c.Quantity,
			Amount:                 amount,
			Currency:               n.CurrencyCode,
			Leaf:                   true,
			CreatedAt:              e.now(),
		})
	}

	err = e.ledger.ApplyNotification(ctx, n, txns)
	if errors.Is(err, store.ErrDuplicateNotification) {
		e.log.Info().
			Str("gateway_txn_id", n.GatewayTxnID).
			Msg("Duplicate refund delivery detected at commit")
		return &Outcome{Kind: OutcomeDuplicate, Notification: n}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("matchRefund: persisting batch: %w", err)
	}

	e.log.Info().
		Str("gateway_txn_id", n.GatewayTxnID).
		Str("parent_gateway_txn_id", n.ParentGatewayTxnID).
		Int("transactions", len(txns)).
		Msg("Refund applied")
	return &Outcome{Kind: OutcomeRefundApplied, Notification: n, Transactions: txns}, nil
}
