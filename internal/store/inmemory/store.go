// Package inmemory provides map-backed implementations of the store
// interfaces. They are safe for concurrent use and intended for tests and
// single-process development; data is lost on restart. For persistence use
// the boltdb package.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/avolkov/ticketline/internal/domain"
	"github.com/avolkov/ticketline/internal/store"
)

// Store is an in-memory implementation of store.LedgerStore.
type Store struct {
	mu            sync.RWMutex
	notifications map[string]*domain.Notification
	notifByKey    map[string]string // (gateway txn id, status) -> notification id
	transactions  map[string]*domain.LedgerTransaction
	seq           map[string]int // insertion order for stable listings
	nextSeq       int
}

// NewStore creates an empty in-memory ledger store.
func NewStore() *Store {
	return &Store{
		notifications: make(map[string]*domain.Notification),
		notifByKey:    make(map[string]string),
		transactions:  make(map[string]*domain.LedgerTransaction),
		seq:           make(map[string]int),
	}
}

func notifKey(gatewayTxnID, paymentStatus string) string {
	return gatewayTxnID + "\x00" + paymentStatus
}

// GetNotification implements store.NotificationStore.
func (s *Store) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *n
	return &copied, nil
}

// FindNotification implements store.NotificationStore.
func (s *Store) FindNotification(ctx context.Context, gatewayTxnID, paymentStatus string) (*domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.notifByKey[notifKey(gatewayTxnID, paymentStatus)]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *s.notifications[id]
	return &copied, nil
}

// FindNotificationByGatewayTxn implements store.NotificationStore.
func (s *Store) FindNotificationByGatewayTxn(ctx context.Context, gatewayTxnID string) (*domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Prefer the final settlement when both it and the provisional record exist.
	for _, status := range []string{domain.PaymentStatusCompleted, domain.PaymentStatusPending} {
		if id, ok := s.notifByKey[notifKey(gatewayTxnID, status)]; ok {
			copied := *s.notifications[id]
			return &copied, nil
		}
	}
	for key, id := range s.notifByKey {
		if strings.HasPrefix(key, gatewayTxnID+"\x00") {
			copied := *s.notifications[id]
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

// GetTransaction implements store.TransactionStore.
func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.LedgerTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

// ListByLinkedNotification implements store.TransactionStore.
func (s *Store) ListByLinkedNotification(ctx context.Context, notificationID string) ([]*domain.LedgerTransaction, error) {
	return s.listWhere(func(t *domain.LedgerTransaction) bool {
		return t.LinkedNotificationID == notificationID
	})
}

// ListByParents implements store.TransactionStore.
func (s *Store) ListByParents(ctx context.Context, parentIDs []string) ([]*domain.LedgerTransaction, error) {
	wanted := make(map[string]bool, len(parentIDs))
	for _, id := range parentIDs {
		wanted[id] = true
	}
	return s.listWhere(func(t *domain.LedgerTransaction) bool {
		return t.ParentTransactionID != "" && wanted[t.ParentTransactionID]
	})
}

// ListByItem implements store.TransactionStore.
func (s *Store) ListByItem(ctx context.Context, itemID string) ([]*domain.LedgerTransaction, error) {
	return s.listWhere(func(t *domain.LedgerTransaction) bool {
		return t.ItemID == itemID
	})
}

func (s *Store) listWhere(match func(*domain.LedgerTransaction) bool) ([]*domain.LedgerTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LedgerTransaction
	for _, t := range s.transactions {
		if match(t) {
			copied := *t
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return s.seq[result[i].ID] < s.seq[result[j].ID]
	})
	return result, nil
}

// UpdateStatuses implements store.TransactionStore.
func (s *Store) UpdateStatuses(ctx context.Context, updates map[string]domain.TransactionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateStatusesLocked(updates)
}

func (s *Store) updateStatusesLocked(updates map[string]domain.TransactionStatus) error {
	for id := range updates {
		if _, ok := s.transactions[id]; !ok {
			return fmt.Errorf("UpdateStatuses: transaction %s: %w", id, store.ErrNotFound)
		}
	}
	for id, status := range updates {
		s.transactions[id].Status = status
	}
	return nil
}

// ApplyNotification implements store.LedgerStore.
func (s *Store) ApplyNotification(ctx context.Context, n *domain.Notification, txns []*domain.LedgerTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertNotificationLocked(n); err != nil {
		return err
	}
	for _, t := range txns {
		if t.ParentTransactionID != "" {
			if parent, ok := s.transactions[t.ParentTransactionID]; ok {
				parent.Leaf = false
			}
		}
		s.insertTransactionLocked(t)
	}
	return nil
}

// PromoteNotification implements store.LedgerStore.
func (s *Store) PromoteNotification(ctx context.Context, n *domain.Notification, updates map[string]domain.TransactionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertNotificationLocked(n); err != nil {
		return err
	}
	return s.updateStatusesLocked(updates)
}

// AppendChild implements store.LedgerStore.
func (s *Store) AppendChild(ctx context.Context, child *domain.LedgerTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.transactions[child.ParentTransactionID]
	if !ok {
		return fmt.Errorf("AppendChild: parent %s: %w", child.ParentTransactionID, store.ErrNotFound)
	}
	parent.Leaf = false
	s.insertTransactionLocked(child)
	return nil
}

func (s *Store) insertNotificationLocked(n *domain.Notification) error {
	key := notifKey(n.GatewayTxnID, n.PaymentStatus)
	if _, exists := s.notifByKey[key]; exists {
		return store.ErrDuplicateNotification
	}
	copied := *n
	s.notifications[n.ID] = &copied
	s.notifByKey[key] = n.ID
	return nil
}

func (s *Store) insertTransactionLocked(t *domain.LedgerTransaction) {
	copied := *t
	s.transactions[t.ID] = &copied
	s.seq[t.ID] = s.nextSeq
	s.nextSeq++
}

// Ensure Store implements the full ledger interface.
var _ store.LedgerStore = (*Store)(nil)

// Catalog is an in-memory store.ItemStore, seeded by tests or dev fixtures.
type Catalog struct {
	mu    sync.RWMutex
	items map[string]*domain.Item
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{items: make(map[string]*domain.Item)}
}

// Put adds or replaces an item.
func (c *Catalog) Put(item *domain.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *item
	c.items[item.ID] = &copied
}

// GetItem implements store.ItemStore.
func (c *Catalog) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *item
	return &copied, nil
}

var _ store.ItemStore = (*Catalog)(nil)

// Correlations is an in-memory store.CorrelationStore.
type Correlations struct {
	mu      sync.RWMutex
	records map[string]*domain.CorrelationRecord
}

// NewCorrelations creates an empty correlation directory.
func NewCorrelations() *Correlations {
	return &Correlations{records: make(map[string]*domain.CorrelationRecord)}
}

// Put adds or replaces a correlation record.
func (c *Correlations) Put(rec *domain.CorrelationRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *rec
	c.records[rec.Token] = &copied
}

// GetCorrelation implements store.CorrelationStore.
func (c *Correlations) GetCorrelation(ctx context.Context, token string) (*domain.CorrelationRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

var _ store.CorrelationStore = (*Correlations)(nil)
