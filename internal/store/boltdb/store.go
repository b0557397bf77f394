// Package boltdb persists the ledger in a single BoltDB file. All data for
// one notification — the notification record, its transaction batch, index
// entries and parent leaf flips — is written inside one db.Update, which is
// what gives the engine its retry-safety: either the whole unit of work is
// durable or none of it is.
//
// The (gateway transaction id, payment status) uniqueness constraint lives
// here, in the notif_by_key bucket, so two concurrent deliveries of the same
// notification cannot both commit even though the engine's read-then-act
// sequence is not atomic.
package boltdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/avolkov/ticketline/internal/domain"
	"github.com/avolkov/ticketline/internal/store"
)

var (
	bucketNotifications = []byte("notifications")    // id -> json
	bucketNotifByKey    = []byte("notif_by_key")     // gatewayTxnID \x00 status -> id
	bucketTransactions  = []byte("transactions")     // id -> json
	bucketTxByNotif     = []byte("tx_by_notif")      // notifID \x00 seq -> txID
	bucketTxByParent    = []byte("tx_by_parent")     // parentID \x00 seq -> txID
	bucketTxByItem      = []byte("tx_by_item")       // itemID \x00 seq -> txID
	bucketItems         = []byte("items")            // id -> json
	bucketCorrelations  = []byte("correlations")     // token -> json
)

var allBuckets = [][]byte{
	bucketNotifications, bucketNotifByKey, bucketTransactions,
	bucketTxByNotif, bucketTxByParent, bucketTxByItem,
	bucketItems, bucketCorrelations,
}

const keySep = "\x00"

// Store wraps a BoltDB database and implements store.LedgerStore,
// store.ItemStore and store.CorrelationStore.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database file and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: creating buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

func notifKey(gatewayTxnID, paymentStatus string) []byte {
	return []byte(gatewayTxnID + keySep + paymentStatus)
}

// GetNotification implements store.NotificationStore.
func (s *Store) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	var n domain.Notification
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketNotifications).Get([]byte(id))
		if raw == nil {
			return store.ErrNotFound
		}
		return json.Unmarshal(raw, &n)
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// FindNotification implements store.NotificationStore.
func (s *Store) FindNotification(ctx context.Context, gatewayTxnID, paymentStatus string) (*domain.Notification, error) {
	var n domain.Notification
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketNotifByKey).Get(notifKey(gatewayTxnID, paymentStatus))
		if id == nil {
			return store.ErrNotFound
		}
		raw := tx.Bucket(bucketNotifications).Get(id)
		if raw == nil {
			return store.ErrNotFound
		}
		return json.Unmarshal(raw, &n)
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// FindNotificationByGatewayTxn implements store.NotificationStore. Completed
// wins over Pending when both records exist for the same gateway txn.
func (s *Store) FindNotificationByGatewayTxn(ctx context.Context, gatewayTxnID string) (*domain.Notification, error) {
	var n domain.Notification
	err := s.db.View(func(tx *bolt.Tx) error {
		byKey := tx.Bucket(bucketNotifByKey)
		for _, status := range []string{domain.PaymentStatusCompleted, domain.PaymentStatusPending} {
			if id := byKey.Get(notifKey(gatewayTxnID, status)); id != nil {
				return json.Unmarshal(tx.Bucket(bucketNotifications).Get(id), &n)
			}
		}
		prefix := []byte(gatewayTxnID + keySep)
		c := byKey.Cursor()
		if k, id := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix) {
			return json.Unmarshal(tx.Bucket(bucketNotifications).Get(id), &n)
		}
		return store.ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// GetTransaction implements store.TransactionStore.
func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.LedgerTransaction, error) {
	var t domain.LedgerTransaction
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketTransactions).Get([]byte(id))
		if raw == nil {
			return store.ErrNotFound
		}
		return json.Unmarshal(raw, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListByLinkedNotification implements store.TransactionStore.
func (s *Store) ListByLinkedNotification(ctx context.Context, notificationID string) ([]*domain.LedgerTransaction, error) {
	return s.listIndexed(bucketTxByNotif, []string{notificationID})
}

// ListByParents implements store.TransactionStore.
func (s *Store) ListByParents(ctx context.Context, parentIDs []string) ([]*domain.LedgerTransaction, error) {
	return s.listIndexed(bucketTxByParent, parentIDs)
}

// ListByItem implements store.TransactionStore.
func (s *Store) ListByItem(ctx context.Context, itemID string) ([]*domain.LedgerTransaction, error) {
	return s.listIndexed(bucketTxByItem, []string{itemID})
}

// listIndexed walks an index bucket by prefix. Index keys embed an insertion
// sequence number, so results come back in creation order per prefix.
func (s *Store) listIndexed(bucket []byte, prefixes []string) ([]*domain.LedgerTransaction, error) {
	var result []*domain.LedgerTransaction
	err := s.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucket)
		txns := tx.Bucket(bucketTransactions)
		for _, p := range prefixes {
			prefix := []byte(p + keySep)
			c := idx.Cursor()
			for k, txID := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, txID = c.Next() {
				raw := txns.Get(txID)
				if raw == nil {
					continue
				}
				var t domain.LedgerTransaction
				if err := json.Unmarshal(raw, &t); err != nil {
					return err
				}
				result = append(result, &t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateStatuses implements store.TransactionStore.
func (s *Store) UpdateStatuses(ctx context.Context, updates map[string]domain.TransactionStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return updateStatuses(tx, updates)
	})
}

func updateStatuses(tx *bolt.Tx, updates map[string]domain.TransactionStatus) error {
	b := tx.Bucket(bucketTransactions)
	for id, status := range updates {
		raw := b.Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("UpdateStatuses: transaction %s: %w", id, store.ErrNotFound)
		}
		var t domain.LedgerTransaction
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}
		t.Status = status
		if err := putJSON(b, []byte(id), &t); err != nil {
			return err
		}
	}
	return nil
}

// ApplyNotification implements store.LedgerStore.
func (s *Store) ApplyNotification(ctx context.Context, n *domain.Notification, txns []*domain.LedgerTransaction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := insertNotification(tx, n); err != nil {
			return err
		}
		for _, t := range txns {
			if err := insertTransaction(tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// PromoteNotification implements store.LedgerStore.
func (s *Store) PromoteNotification(ctx context.Context, n *domain.Notification, updates map[string]domain.TransactionStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := insertNotification(tx, n); err != nil {
			return err
		}
		return updateStatuses(tx, updates)
	})
}

// AppendChild implements store.LedgerStore.
func (s *Store) AppendChild(ctx context.Context, child *domain.LedgerTransaction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketTransactions).Get([]byte(child.ParentTransactionID)) == nil {
			return fmt.Errorf("AppendChild: parent %s: %w", child.ParentTransactionID, store.ErrNotFound)
		}
		return insertTransaction(tx, child)
	})
}

func insertNotification(tx *bolt.Tx, n *domain.Notification) error {
	byKey := tx.Bucket(bucketNotifByKey)
	key := notifKey(n.GatewayTxnID, n.PaymentStatus)

	// Uniqueness check and insert happen inside the same bolt transaction, so
	// the check-then-act race in the engine resolves here.
	if byKey.Get(key) != nil {
		return store.ErrDuplicateNotification
	}
	if err := byKey.Put(key, []byte(n.ID)); err != nil {
		return err
	}
	return putJSON(tx.Bucket(bucketNotifications), []byte(n.ID), n)
}

func insertTransaction(tx *bolt.Tx, t *domain.LedgerTransaction) error {
	txns := tx.Bucket(bucketTransactions)

	// Appending a lineage child retires the old leaf in the same write.
	if t.ParentTransactionID != "" {
		raw := txns.Get([]byte(t.ParentTransactionID))
		if raw != nil {
			var parent domain.LedgerTransaction
			if err := json.Unmarshal(raw, &parent); err != nil {
				return err
			}
			if parent.Leaf {
				parent.Leaf = false
				if err := putJSON(txns, []byte(parent.ID), &parent); err != nil {
					return err
				}
			}
		}
	}

	if err := putJSON(txns, []byte(t.ID), t); err != nil {
		return err
	}

	seq, err := txns.NextSequence()
	if err != nil {
		return err
	}
	if t.LinkedNotificationID != "" {
		if err := putIndex(tx.Bucket(bucketTxByNotif), t.LinkedNotificationID, seq, t.ID); err != nil {
			return err
		}
	}
	if t.ParentTransactionID != "" {
		if err := putIndex(tx.Bucket(bucketTxByParent), t.ParentTransactionID, seq, t.ID); err != nil {
			return err
		}
	}
	if t.ItemID != "" {
		if err := putIndex(tx.Bucket(bucketTxByItem), t.ItemID, seq, t.ID); err != nil {
			return err
		}
	}
	return nil
}

func putIndex(b *bolt.Bucket, prefix string, seq uint64, txID string) error {
	key := make([]byte, 0, len(prefix)+1+8)
	key = append(key, prefix...)
	key = append(key, keySep...)
	key = binary.BigEndian.AppendUint64(key, seq)
	return b.Put(key, []byte(txID))
}

func putJSON(b *bolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// PutItem stores a catalog item. The catalog is owned elsewhere; this is the
// ingestion point for fixtures and catalog sync.
func (s *Store) PutItem(ctx context.Context, item *domain.Item) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketItems), []byte(item.ID), item)
	})
}

// GetItem implements store.ItemStore.
func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	var item domain.Item
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketItems).Get([]byte(id))
		if raw == nil {
			return store.ErrNotFound
		}
		return json.Unmarshal(raw, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// PutCorrelation stores a checkout correlation record.
func (s *Store) PutCorrelation(ctx context.Context, rec *domain.CorrelationRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketCorrelations), []byte(rec.Token), rec)
	})
}

// GetCorrelation implements store.CorrelationStore.
func (s *Store) GetCorrelation(ctx context.Context, token string) (*domain.CorrelationRecord, error) {
	var rec domain.CorrelationRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCorrelations).Get([]byte(token))
		if raw == nil {
			return store.ErrNotFound
		}
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

var (
	_ store.LedgerStore      = (*Store)(nil)
	_ store.ItemStore        = (*Store)(nil)
	_ store.CorrelationStore = (*Store)(nil)
)
