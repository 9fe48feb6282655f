package purchasing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOrderStoreReplaceAndFind(t *testing.T) {
	store := NewOrderStore()
	require.False(t, store.Snapshot().Loaded())

	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	snap := store.Replace([]PurchaseOrder{{ID: 1, Status: StatusPending}, {ID: 2, Status: StatusCompleted}}, at)
	require.True(t, snap.Loaded())
	require.Equal(t, at, snap.SyncedAt())
	require.Equal(t, 2, snap.Len())

	order, ok := snap.Find(2)
	require.True(t, ok)
	require.Equal(t, StatusCompleted, order.Status)
	_, ok = snap.Find(3)
	require.False(t, ok)
}

func TestOrderStoreSnapshotsAreImmutable(t *testing.T) {
	store := NewOrderStore()
	first := store.Replace([]PurchaseOrder{{ID: 1, Status: StatusPending}}, time.Now())

	store.Upsert(PurchaseOrder{ID: 1, Status: StatusCompleted})
	store.Upsert(PurchaseOrder{ID: 2, Status: StatusPending})

	order, _ := first.Find(1)
	require.Equal(t, StatusPending, order.Status)
	require.Equal(t, 1, first.Len())
	require.Equal(t, 2, store.Snapshot().Len())

	orders := store.Snapshot().Orders()
	orders[0].Status = StatusCancelled
	again, _ := store.Snapshot().Find(orders[0].ID)
	require.NotEqual(t, StatusCancelled, again.Status)
}

func TestOrderStoreUpsertPrependsNewOrders(t *testing.T) {
	store := NewOrderStore()
	store.Replace([]PurchaseOrder{{ID: 1}}, time.Now())

	_, snap := store.Upsert(PurchaseOrder{ID: 9})
	require.Equal(t, int64(9), snap.Orders()[0].ID)
}

func TestOrderStoreAssignsTemporaryIDs(t *testing.T) {
	store := NewOrderStore()

	first, _ := store.Upsert(PurchaseOrder{Status: StatusPending})
	second, snap := store.Upsert(PurchaseOrder{Status: StatusPending})

	require.True(t, first.Temporary())
	require.True(t, second.Temporary())
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, 2, snap.Len())

	// a full refresh replaces local patches with backend truth
	snap = store.Replace([]PurchaseOrder{{ID: 40}}, time.Now())
	_, ok := snap.Find(first.ID)
	require.False(t, ok)
}

func TestOrderStoreRemove(t *testing.T) {
	store := NewOrderStore()
	store.Replace([]PurchaseOrder{{ID: 1}, {ID: 2}}, time.Now())

	snap := store.Remove(1)
	require.Equal(t, 1, snap.Len())
	_, ok := snap.Find(1)
	require.False(t, ok)
}

func TestStatusStateTable(t *testing.T) {
	require.True(t, StatusPending.CanTransitionTo(StatusCompleted))
	require.True(t, StatusPending.CanTransitionTo(StatusCancelled))
	require.False(t, StatusPending.CanTransitionTo(StatusPending))
	require.False(t, StatusCompleted.CanTransitionTo(StatusCancelled))
	require.False(t, StatusCancelled.CanTransitionTo(StatusCompleted))

	unknown := ParseStatus(" archived ")
	require.Equal(t, Status("archived"), unknown)
	require.False(t, unknown.IsKnown())
	require.False(t, unknown.IsPending())
	require.False(t, unknown.IsTerminal())
	require.False(t, unknown.Editable())
	require.Empty(t, unknown.Transitions())
	require.Equal(t, []Status{StatusCompleted, StatusCancelled}, StatusPending.Transitions())
}
