// Package lineage walks forward chains of ledger transactions connected by
// parent pointers. It is read-only: children appended elsewhere after a walk
// started are simply not included, and callers needing a consistent snapshot
// re-query.
package lineage

import (
	"context"
	"fmt"

	"github.com/avolkov/ticketline/internal/domain"
	"github.com/avolkov/ticketline/internal/store"
)

// Chain is one lineage, root-first. A chain of length 1 is a transaction with
// no recorded descendant yet.
type Chain []*domain.LedgerTransaction

// Service computes transaction forests.
type Service struct {
	store store.TransactionStore
}

// NewService creates a lineage service over the given transaction store.
func NewService(st store.TransactionStore) *Service {
	return &Service{store: st}
}

// Forest builds one chain per seed transaction. All chains are extended
// together, one generation per storage round trip, so the number of queries
// is bounded by the depth of the longest chain rather than the node count.
func (s *Service) Forest(ctx context.Context, seeds []*domain.LedgerTransaction) ([]Chain, error) {
	chains := make([]Chain, len(seeds))
	tailIndex := make(map[string]int, len(seeds)) // tail id -> chain index
	seen := make(map[string]bool, len(seeds))

	for i, seed := range seeds {
		chains[i] = Chain{seed}
		tailIndex[seed.ID] = i
		seen[seed.ID] = true
	}

	for len(tailIndex) > 0 {
		tailIDs := make([]string, 0, len(tailIndex))
		for id := range tailIndex {
			tailIDs = append(tailIDs, id)
		}

		children, err := s.store.ListByParents(ctx, tailIDs)
		if err != nil {
			return nil, fmt.Errorf("Forest: listing children: %w", err)
		}

		next := make(map[string]int, len(tailIndex))
		for _, child := range children {
			idx, ok := tailIndex[child.ParentTransactionID]
			if !ok {
				continue
			}
			// A parent can only have gained a second child through a racing
			// append; the earliest child wins and the chain stays linear.
			if _, extended := next[child.ID]; extended {
				continue
			}
			if tail := chains[idx][len(chains[idx])-1]; tail.ID != child.ParentTransactionID {
				continue
			}
			if seen[child.ID] {
				continue
			}
			chains[idx] = append(chains[idx], child)
			seen[child.ID] = true
			next[child.ID] = idx
		}
		tailIndex = next
	}

	return chains, nil
}

// ForestByIDs resolves seed ids and builds their forest. Unknown ids are an
// error: callers pass ids they obtained from the ledger.
func (s *Service) ForestByIDs(ctx context.Context, ids []string) ([]Chain, error) {
	seeds := make([]*domain.LedgerTransaction, 0, len(ids))
	for _, id := range ids {
		t, err := s.store.GetTransaction(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("ForestByIDs: seed %s: %w", id, err)
		}
		seeds = append(seeds, t)
	}
	return s.Forest(ctx, seeds)
}
