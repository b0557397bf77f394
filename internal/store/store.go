// Package store defines the persistence interfaces the reconciliation core
// depends on. Concrete implementations live in subpackages; the core only
// sees these interfaces, never a database client.
package store

import (
	"context"
	"errors"

	"github.com/avolkov/ticketline/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateNotification is returned when a notification with the same
// (gateway transaction id, payment status) pair was already applied. The
// uniqueness constraint lives in the store, not in the engine's read, so
// concurrent duplicate deliveries cannot both commit.
var ErrDuplicateNotification = errors.New("notification already applied")

// NotificationStore reads accepted gateway notifications.
type NotificationStore interface {
	// GetNotification retrieves a notification by internal id.
	GetNotification(ctx context.Context, id string) (*domain.Notification, error)

	// FindNotification retrieves a notification by its gateway transaction id
	// and exact payment status.
	FindNotification(ctx context.Context, gatewayTxnID, paymentStatus string) (*domain.Notification, error)

	// FindNotificationByGatewayTxn retrieves a notification by gateway
	// transaction id regardless of status, preferring Completed over Pending.
	// Used to resolve parent pointers on refunds and subscription follow-ups.
	FindNotificationByGatewayTxn(ctx context.Context, gatewayTxnID string) (*domain.Notification, error)
}

// TransactionStore reads and updates ledger transactions.
type TransactionStore interface {
	// GetTransaction retrieves a ledger transaction by id.
	GetTransaction(ctx context.Context, id string) (*domain.LedgerTransaction, error)

	// ListByLinkedNotification returns all transactions produced by the given
	// notification, in creation order.
	ListByLinkedNotification(ctx context.Context, notificationID string) ([]*domain.LedgerTransaction, error)

	// ListByParents returns all transactions whose parent pointer is one of
	// the given ids. One call per lineage generation keeps storage round
	// trips proportional to chain depth.
	ListByParents(ctx context.Context, parentIDs []string) ([]*domain.LedgerTransaction, error)

	// ListByItem returns all transactions recorded against an item.
	ListByItem(ctx context.Context, itemID string) ([]*domain.LedgerTransaction, error)

	// UpdateStatuses promotes the given transactions to new statuses in one
	// write. Used only for provisional-to-final settlement promotion.
	UpdateStatuses(ctx context.Context, updates map[string]domain.TransactionStatus) error
}

// LedgerStore is the full write surface of the reconciliation core.
type LedgerStore interface {
	NotificationStore
	TransactionStore

	// ApplyNotification durably records a notification together with all of
	// its ledger transactions as one atomic unit. For every transaction that
	// names a parent, the parent's leaf flag is cleared in the same write, so
	// a lineage never observes zero or two leaves. Returns
	// ErrDuplicateNotification when the (gateway txn id, status) pair was
	// already applied; in that case nothing is written.
	ApplyNotification(ctx context.Context, n *domain.Notification, txns []*domain.LedgerTransaction) error

	// PromoteNotification records a final-settlement notification and applies
	// the given status promotions to previously created transactions, all in
	// one write. No new transactions are created.
	PromoteNotification(ctx context.Context, n *domain.Notification, updates map[string]domain.TransactionStatus) error

	// AppendChild appends a system-generated child (revoke, transfer) to an
	// existing lineage, clearing the parent's leaf flag in the same write.
	AppendChild(ctx context.Context, child *domain.LedgerTransaction) error
}

// ItemStore is the narrow catalog lookup the core consumes.
type ItemStore interface {
	GetItem(ctx context.Context, id string) (*domain.Item, error)
}

// CorrelationStore resolves checkout correlation tokens back to identities.
type CorrelationStore interface {
	GetCorrelation(ctx context.Context, token string) (*domain.CorrelationRecord, error)
}
