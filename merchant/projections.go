package merchant

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// derived read models over the cached collections.
// revenue is maintained incrementally from the order change stream.
// unread count and inventory buckets are pure functions of a snapshot,
// so they can never drift from the cache

// sum of total_amount over orders fulfilled today (status in
// {ready, delivered}, created within the local calendar day).
// each order contributes at most once even under duplicate or replayed
// events, tracked by a counted-id set.
// revenue is immutable once counted: a later cancellation does not
// decrement the running sum
type RevenueProjection struct {
	store *CollectionStore[*Order]

	// test hooks
	now      func() time.Time
	location *time.Location

	stateLock  sync.Mutex
	dayStart   time.Time
	countedIds map[Id]bool
	total      decimal.Decimal

	unsub func()
}

func NewRevenueProjection(store *CollectionStore[*Order]) *RevenueProjection {
	return newRevenueProjection(store, time.Now, time.Local)
}

func newRevenueProjection(store *CollectionStore[*Order], now func() time.Time, location *time.Location) *RevenueProjection {
	revenueProjection := &RevenueProjection{
		store:      store,
		now:        now,
		location:   location,
		countedIds: map[Id]bool{},
		total:      decimal.Zero,
	}

	// subscribe before reseeding so a store write landing between the
	// two cannot be missed. counting is idempotent, so an order seen by
	// both the callback and the reseed contributes once
	revenueProjection.unsub = store.AddChangeCallback(revenueProjection.applyChanges)

	func() {
		revenueProjection.stateLock.Lock()
		defer revenueProjection.stateLock.Unlock()
		revenueProjection.reseed()
	}()

	return revenueProjection
}

func (self *RevenueProjection) RevenueToday() decimal.Decimal {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.ensureDay()
	return self.total
}

// StoreChangeFunction
func (self *RevenueProjection) applyChanges(changes []*StoreEntryChange[*Order]) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.ensureDay()
	for _, change := range changes {
		if change.After == nil {
			// no decrement path. a removed or cancelled order that was
			// already counted stays counted
			continue
		}
		self.count(change.After)
	}
}

// must be called with `stateLock`
func (self *RevenueProjection) count(order *Order) {
	if !order.Status.IsFulfilled() {
		return
	}
	if self.countedIds[order.OrderId] {
		return
	}
	if !self.inDay(order.CreatedTime) {
		return
	}
	self.countedIds[order.OrderId] = true
	self.total = self.total.Add(order.TotalAmount)
}

// must be called with `stateLock`.
// rolls the projection over to a new local calendar day
func (self *RevenueProjection) ensureDay() {
	now := self.now().In(self.location)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, self.location)
	if !dayStart.Equal(self.dayStart) {
		self.dayStart = dayStart
		self.countedIds = map[Id]bool{}
		self.total = decimal.Zero
		self.reseed()
	}
}

// must be called with `stateLock`
func (self *RevenueProjection) reseed() {
	now := self.now().In(self.location)
	self.dayStart = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, self.location)
	for _, order := range self.store.Snapshot() {
		self.count(order)
	}
}

// must be called with `stateLock`
func (self *RevenueProjection) inDay(createdTime time.Time) bool {
	t := createdTime.In(self.location)
	return !t.Before(self.dayStart) && t.Before(self.dayStart.AddDate(0, 0, 1))
}

func (self *RevenueProjection) Close() {
	self.unsub()
}

// count of cached notifications with is_read false. recomputed from the
// snapshot so it cannot desync from the cache
func UnreadNotificationCount(store *CollectionStore[*Notification]) int {
	count := 0
	for _, notification := range store.Snapshot() {
		if !notification.IsRead {
			count += 1
		}
	}
	return count
}

type InventoryBuckets struct {
	Good    int
	Warning int
	Danger  int
}

// pure function of the snapshot, recomputed on read. the status is
// re-derived from the stock levels rather than trusted from the record
func ComputeInventoryBuckets(items []*InventoryItem) *InventoryBuckets {
	buckets := &InventoryBuckets{}
	for _, item := range items {
		switch DeriveInventoryStatus(item.CurrentStock, item.MaximumStock) {
		case InventoryStatusGood:
			buckets.Good += 1
		case InventoryStatusWarning:
			buckets.Warning += 1
		case InventoryStatusDanger:
			buckets.Danger += 1
		}
	}
	return buckets
}

func ComputeOrderStatusBuckets(orders []*Order) map[OrderStatus]int {
	buckets := map[OrderStatus]int{}
	for _, order := range orders {
		buckets[order.Status] += 1
	}
	return buckets
}
