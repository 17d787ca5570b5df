package merchant

import (
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/shopspring/decimal"
)

func TestRevenueCountsFulfilledToday(t *testing.T) {
	store := NewCollectionStore[*Order](CompareOrders)
	now := time.Now()

	revenue := newRevenueProjection(store, func() time.Time { return now }, time.Local)
	defer revenue.Close()

	// a pending order does not count
	orderId := NewId()
	store.Upsert(testOrder(orderId, OrderStatusPending, 5000, now))
	assert.Equal(t, revenue.RevenueToday(), decimal.Zero)

	// the order counts once it becomes ready
	store.Upsert(testOrder(orderId, OrderStatusReady, 5000, now))
	assert.Equal(t, revenue.RevenueToday(), decimal.NewFromInt(5000))

	// a second fulfilled order adds
	store.Upsert(testOrder(NewId(), OrderStatusDelivered, 3000, now))
	assert.Equal(t, revenue.RevenueToday(), decimal.NewFromInt(8000))
}

func TestRevenueNoDoubleCount(t *testing.T) {
	store := NewCollectionStore[*Order](CompareOrders)
	now := time.Now()

	revenue := newRevenueProjection(store, func() time.Time { return now }, time.Local)
	defer revenue.Close()

	orderId := NewId()
	ready := testOrder(orderId, OrderStatusReady, 5000, now)

	// duplicate and replayed events for a counted order are no-ops
	store.Upsert(ready)
	store.Upsert(ready)
	store.Upsert(testOrder(orderId, OrderStatusDelivered, 5000, now))
	assert.Equal(t, revenue.RevenueToday(), decimal.NewFromInt(5000))
}

func TestRevenueImmutableOnceCounted(t *testing.T) {
	store := NewCollectionStore[*Order](CompareOrders)
	now := time.Now()

	revenue := newRevenueProjection(store, func() time.Time { return now }, time.Local)
	defer revenue.Close()

	orderId := NewId()
	store.Upsert(testOrder(orderId, OrderStatusReady, 5000, now))
	assert.Equal(t, revenue.RevenueToday(), decimal.NewFromInt(5000))

	// a later cancellation or removal does not decrement
	store.Upsert(testOrder(orderId, OrderStatusCancelled, 5000, now))
	assert.Equal(t, revenue.RevenueToday(), decimal.NewFromInt(5000))

	store.Remove(orderId)
	assert.Equal(t, revenue.RevenueToday(), decimal.NewFromInt(5000))
}

func TestRevenueExcludesOtherDays(t *testing.T) {
	store := NewCollectionStore[*Order](CompareOrders)
	now := time.Now()

	revenue := newRevenueProjection(store, func() time.Time { return now }, time.Local)
	defer revenue.Close()

	store.Upsert(testOrder(NewId(), OrderStatusReady, 5000, now.AddDate(0, 0, -1)))
	assert.Equal(t, revenue.RevenueToday(), decimal.Zero)
}

func TestRevenueSeedsUnderConcurrentWrites(t *testing.T) {
	// an order written while the projection is being constructed is
	// counted exactly once, whether the reseed or the change callback
	// sees it first
	now := time.Now()

	for i := 0; i < 50; i += 1 {
		store := NewCollectionStore[*Order](CompareOrders)
		order := testOrder(NewId(), OrderStatusReady, 5000, now)

		done := make(chan struct{})
		go func() {
			defer close(done)
			store.Upsert(order)
		}()

		revenue := newRevenueProjection(store, func() time.Time { return now }, time.Local)
		<-done

		assert.Equal(t, revenue.RevenueToday(), decimal.NewFromInt(5000))
		revenue.Close()
	}
}

func TestRevenueSeedsFromSnapshot(t *testing.T) {
	store := NewCollectionStore[*Order](CompareOrders)
	now := time.Now()

	store.Upsert(testOrder(NewId(), OrderStatusReady, 5000, now))
	store.Upsert(testOrder(NewId(), OrderStatusPending, 3000, now))

	// a projection attached after the load picks up the cached snapshot
	revenue := newRevenueProjection(store, func() time.Time { return now }, time.Local)
	defer revenue.Close()

	assert.Equal(t, revenue.RevenueToday(), decimal.NewFromInt(5000))
}

func TestRevenueDayRollover(t *testing.T) {
	store := NewCollectionStore[*Order](CompareOrders)

	var nowLock sync.Mutex
	now := time.Now()
	nowFunc := func() time.Time {
		nowLock.Lock()
		defer nowLock.Unlock()
		return now
	}

	revenue := newRevenueProjection(store, nowFunc, time.Local)
	defer revenue.Close()

	store.Upsert(testOrder(NewId(), OrderStatusReady, 5000, now))
	assert.Equal(t, revenue.RevenueToday(), decimal.NewFromInt(5000))

	// at local midnight the projection resets
	nowLock.Lock()
	now = now.AddDate(0, 0, 1)
	nowLock.Unlock()

	assert.Equal(t, revenue.RevenueToday(), decimal.Zero)

	store.Upsert(testOrder(NewId(), OrderStatusReady, 2000, nowFunc()))
	assert.Equal(t, revenue.RevenueToday(), decimal.NewFromInt(2000))
}

func TestUnreadNotificationCount(t *testing.T) {
	store := NewCollectionStore[*Notification](CompareNotifications)
	now := time.Now()

	unreadId := NewId()
	store.Upsert(&Notification{NotificationId: unreadId, IsRead: false, CreatedTime: now})
	store.Upsert(&Notification{NotificationId: NewId(), IsRead: false, CreatedTime: now})
	store.Upsert(&Notification{NotificationId: NewId(), IsRead: true, CreatedTime: now})
	assert.Equal(t, UnreadNotificationCount(store), 2)

	// replaying a read event for an already read record changes nothing
	read := &Notification{NotificationId: unreadId, IsRead: true, CreatedTime: now}
	store.Upsert(read)
	assert.Equal(t, UnreadNotificationCount(store), 1)
	store.Upsert(read)
	assert.Equal(t, UnreadNotificationCount(store), 1)
}

func TestComputeInventoryBuckets(t *testing.T) {
	items := []*InventoryItem{
		{ItemId: NewId(), CurrentStock: 0, MaximumStock: 100},
		{ItemId: NewId(), CurrentStock: 20, MaximumStock: 100},
		{ItemId: NewId(), CurrentStock: 40, MaximumStock: 100},
		// a stale stored status does not matter, the buckets re-derive
		{ItemId: NewId(), CurrentStock: 90, MaximumStock: 100, Status: InventoryStatusDanger},
	}

	buckets := ComputeInventoryBuckets(items)
	assert.Equal(t, buckets.Danger, 2)
	assert.Equal(t, buckets.Warning, 1)
	assert.Equal(t, buckets.Good, 1)
}

func TestComputeOrderStatusBuckets(t *testing.T) {
	now := time.Now()
	orders := []*Order{
		testOrder(NewId(), OrderStatusPending, 1000, now),
		testOrder(NewId(), OrderStatusPending, 2000, now),
		testOrder(NewId(), OrderStatusReady, 3000, now),
	}

	buckets := ComputeOrderStatusBuckets(orders)
	assert.Equal(t, buckets[OrderStatusPending], 2)
	assert.Equal(t, buckets[OrderStatusReady], 1)
	assert.Equal(t, buckets[OrderStatusDelivered], 0)
}
