package lineage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/ticketline/internal/domain"
	"github.com/avolkov/ticketline/internal/store"
	"github.com/avolkov/ticketline/internal/store/inmemory"
)

// seedLineage persists a chain root -> ... -> leaf and returns the rows.
func seedLineage(t *testing.T, st *inmemory.Store, prefix string, depth int) []*domain.LedgerTransaction {
	t.Helper()
	ctx := context.Background()

	rows := make([]*domain.LedgerTransaction, 0, depth)
	parentID := ""
	for i := 0; i < depth; i++ {
		row := &domain.LedgerTransaction{
			ID:                  fmt.Sprintf("%s-%d", prefix, i),
			ParentTransactionID: parentID,
			Status:              domain.StatusSettled,
			Leaf:                i == depth-1,
		}
		if parentID == "" {
			n := &domain.Notification{ID: prefix + "-n", GatewayTxnID: prefix, PaymentStatus: domain.PaymentStatusCompleted}
			require.NoError(t, st.ApplyNotification(ctx, n, []*domain.LedgerTransaction{row}))
		} else {
			require.NoError(t, st.AppendChild(ctx, row))
		}
		rows = append(rows, row)
		parentID = row.ID
	}
	return rows
}

func TestForest_SingleChain(t *testing.T) {
	st := inmemory.NewStore()
	rows := seedLineage(t, st, "a", 4)

	svc := NewService(st)
	chains, err := svc.Forest(context.Background(), rows[:1])
	require.NoError(t, err)
	require.Len(t, chains, 1)
	require.Len(t, chains[0], 4)
	for i, row := range chains[0] {
		assert.Equal(t, rows[i].ID, row.ID)
	}
}

func TestForest_MultipleSeedsExtendTogether(t *testing.T) {
	st := inmemory.NewStore()
	a := seedLineage(t, st, "a", 3)
	b := seedLineage(t, st, "b", 5)
	c := seedLineage(t, st, "c", 1)

	svc := NewService(st)
	chains, err := svc.Forest(context.Background(), []*domain.LedgerTransaction{a[0], b[0], c[0]})
	require.NoError(t, err)
	require.Len(t, chains, 3)
	assert.Len(t, chains[0], 3)
	assert.Len(t, chains[1], 5)
	assert.Len(t, chains[2], 1, "a transaction with no descendants is a chain of length 1")
}

func TestForest_SeedMidChain(t *testing.T) {
	st := inmemory.NewStore()
	rows := seedLineage(t, st, "a", 4)

	svc := NewService(st)
	chains, err := svc.Forest(context.Background(), []*domain.LedgerTransaction{rows[2]})
	require.NoError(t, err)
	require.Len(t, chains, 1)
	require.Len(t, chains[0], 2, "forest walks forward only, from the seed to the leaf")
	assert.Equal(t, rows[2].ID, chains[0][0].ID)
	assert.Equal(t, rows[3].ID, chains[0][1].ID)
}

func TestForest_ExactlyOneLeafPerLineage(t *testing.T) {
	st := inmemory.NewStore()
	rows := seedLineage(t, st, "a", 5)

	svc := NewService(st)
	chains, err := svc.Forest(context.Background(), rows[:1])
	require.NoError(t, err)

	leaves := 0
	for _, row := range chains[0] {
		fresh, err := st.GetTransaction(context.Background(), row.ID)
		require.NoError(t, err)
		if fresh.Leaf {
			leaves++
		}
	}
	assert.Equal(t, 1, leaves)
}

func TestForestByIDs(t *testing.T) {
	st := inmemory.NewStore()
	rows := seedLineage(t, st, "a", 2)

	svc := NewService(st)
	chains, err := svc.ForestByIDs(context.Background(), []string{rows[0].ID})
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Len(t, chains[0], 2)

	_, err = svc.ForestByIDs(context.Background(), []string{"missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestForest_EmptySeeds(t *testing.T) {
	svc := NewService(inmemory.NewStore())
	chains, err := svc.Forest(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, chains)
}
