package merchant

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// logging convention for the merchant sync engine:
// Info:
//     essential events for abnormal behavior. this level should be
//     silent on normal operation
//     - feed subscribe errors and reconnects
//     - fetch failures that leave a stale snapshot visible
// V(1):
//     recoverable anomalies: rollbacks, reverted optimistic entries,
//     failed fire-and-forget tracking writes
// V(2):
//     per-event tracing: feed frames, applied changes

type MerchantClientSettings struct {
	Feed     *ChangeFeedSettings
	Mutator  *OptimisticMutatorSettings
	Location *time.Location

	NotificationLimit int
}

func DefaultMerchantClientSettings() *MerchantClientSettings {
	return &MerchantClientSettings{
		Feed:              DefaultChangeFeedSettings(),
		Mutator:           DefaultOptimisticMutatorSettings(),
		Location:          time.Local,
		NotificationLimit: DefaultNotificationLimit,
	}
}

type ProjectionsSnapshot struct {
	RevenueToday       decimal.Decimal
	UnreadCount        int
	InventoryBuckets   *InventoryBuckets
	OrderStatusBuckets map[OrderStatus]int
}

// the surface the presentation layer consumes. owns one reconciler and
// feed pair per collection and guarantees release on Close.
// the remote store handle is injected; its lifecycle belongs to the
// process, not to this client
type MerchantClient struct {
	ctx    context.Context
	cancel context.CancelFunc

	api     *MerchantApi
	session *SessionJwt

	settings *MerchantClientSettings

	ordersStore      *CollectionStore[*Order]
	ordersFeed       *ChangeFeedClient
	ordersReconciler *Reconciler[*Order]
	ordersMutator    *OptimisticMutator[*Order]
	revenue          *RevenueProjection

	notificationsStore      *CollectionStore[*Notification]
	notificationsFeed       *ChangeFeedClient
	notificationsReconciler *Reconciler[*Notification]
	notificationsMutator    *OptimisticMutator[*Notification]

	statusStore      *CollectionStore[*MerchantStatus]
	statusFeed       *ChangeFeedClient
	statusReconciler *Reconciler[*MerchantStatus]
	statusMutator    *OptimisticMutator[*MerchantStatus]

	inventoryStore      *CollectionStore[*InventoryItem]
	inventoryFeed       *ChangeFeedClient
	inventoryReconciler *Reconciler[*InventoryItem]
}

func NewMerchantClientWithDefaults(
	ctx context.Context,
	api *MerchantApi,
	session *SessionJwt,
) *MerchantClient {
	return NewMerchantClient(ctx, api, session, DefaultMerchantClientSettings())
}

func NewMerchantClient(
	ctx context.Context,
	api *MerchantApi,
	session *SessionJwt,
	settings *MerchantClientSettings,
) *MerchantClient {
	cancelCtx, cancel := context.WithCancel(ctx)

	client := &MerchantClient{
		ctx:      cancelCtx,
		cancel:   cancel,
		api:      api,
		session:  session,
		settings: settings,
	}

	merchantId := session.MerchantId

	client.ordersStore = NewCollectionStore[*Order](CompareOrders)
	client.ordersFeed = NewChangeFeedClient(
		cancelCtx,
		api.FeedUrl(TableOrders, merchantId),
		api.SessionJwt(),
		TableOrders,
		merchantId,
		settings.Feed,
	)
	ordersSettings := DefaultReconcilerSettings[*Order]()
	ordersSettings.Merge = MergeOrderItems
	client.ordersReconciler = NewReconciler(
		cancelCtx,
		client.ordersStore,
		client.ordersFeed,
		func(ctx context.Context) ([]*Order, error) {
			return FetchOrders(api, merchantId, "")
		},
		ordersSettings,
	)
	client.ordersMutator = NewOptimisticMutator(
		cancelCtx,
		client.ordersStore,
		OrderStatusWrite(api),
		settings.Mutator,
	)
	client.revenue = newRevenueProjection(client.ordersStore, time.Now, settings.Location)

	client.notificationsStore = NewCollectionStore[*Notification](CompareNotifications)
	client.notificationsFeed = NewChangeFeedClient(
		cancelCtx,
		api.FeedUrl(TableNotifications, merchantId),
		api.SessionJwt(),
		TableNotifications,
		merchantId,
		settings.Feed,
	)
	client.notificationsReconciler = NewReconcilerWithDefaults(
		cancelCtx,
		client.notificationsStore,
		client.notificationsFeed,
		func(ctx context.Context) ([]*Notification, error) {
			return FetchNotifications(api, merchantId, settings.NotificationLimit)
		},
	)
	client.notificationsMutator = NewOptimisticMutator(
		cancelCtx,
		client.notificationsStore,
		NotificationReadWrite(api),
		settings.Mutator,
	)

	client.statusStore = NewCollectionStore[*MerchantStatus](nil)
	client.statusFeed = NewChangeFeedClient(
		cancelCtx,
		api.FeedUrl(TableMerchantStatus, merchantId),
		api.SessionJwt(),
		TableMerchantStatus,
		merchantId,
		settings.Feed,
	)
	client.statusReconciler = NewReconcilerWithDefaults(
		cancelCtx,
		client.statusStore,
		client.statusFeed,
		func(ctx context.Context) ([]*MerchantStatus, error) {
			status, err := EnsureMerchantStatus(api, merchantId)
			if err != nil {
				return nil, err
			}
			return []*MerchantStatus{status}, nil
		},
	)
	client.statusMutator = NewOptimisticMutator(
		cancelCtx,
		client.statusStore,
		MerchantStatusWrite(api),
		settings.Mutator,
	)

	client.inventoryStore = NewCollectionStore[*InventoryItem](CompareInventoryItems)
	client.inventoryFeed = NewChangeFeedClient(
		cancelCtx,
		api.FeedUrl(TableMerchantInventory, merchantId),
		api.SessionJwt(),
		TableMerchantInventory,
		merchantId,
		settings.Feed,
	)
	client.inventoryReconciler = NewReconcilerWithDefaults(
		cancelCtx,
		client.inventoryStore,
		client.inventoryFeed,
		func(ctx context.Context) ([]*InventoryItem, error) {
			return FetchInventory(api, merchantId)
		},
	)

	return client
}

func (self *MerchantClient) Session() *SessionJwt {
	return self.session
}

// collection views: snapshot, loading, last load error.
// a failed load keeps the previous snapshot visible

func (self *MerchantClient) Orders() ([]*Order, bool, error) {
	return self.ordersStore.Snapshot(), !self.ordersReconciler.Loaded(), self.ordersReconciler.LastError()
}

func (self *MerchantClient) OrdersByStatus(status OrderStatus) []*Order {
	orders := []*Order{}
	for _, order := range self.ordersStore.Snapshot() {
		if order.Status == status {
			orders = append(orders, order)
		}
	}
	return orders
}

func (self *MerchantClient) Notifications() ([]*Notification, bool, error) {
	return self.notificationsStore.Snapshot(), !self.notificationsReconciler.Loaded(), self.notificationsReconciler.LastError()
}

func (self *MerchantClient) Status() (*MerchantStatus, bool, error) {
	status, _ := self.statusStore.Get(MerchantStatusId(self.session.MerchantId))
	return status, !self.statusReconciler.Loaded(), self.statusReconciler.LastError()
}

func (self *MerchantClient) Inventory() ([]*InventoryItem, bool, error) {
	return self.inventoryStore.Snapshot(), !self.inventoryReconciler.Loaded(), self.inventoryReconciler.LastError()
}

func (self *MerchantClient) Projections() *ProjectionsSnapshot {
	return &ProjectionsSnapshot{
		RevenueToday:       self.revenue.RevenueToday(),
		UnreadCount:        UnreadNotificationCount(self.notificationsStore),
		InventoryBuckets:   ComputeInventoryBuckets(self.inventoryStore.Snapshot()),
		OrderStatusBuckets: ComputeOrderStatusBuckets(self.ordersStore.Snapshot()),
	}
}

func (self *MerchantClient) PerformanceMetrics(metricsRange MetricsRange) *PerformanceMetrics {
	return ComputePerformanceMetrics(
		self.ordersStore.Snapshot(),
		metricsRange,
		time.Now(),
		self.settings.Location,
	)
}

// surfaced when a re-fetch reverts unconfirmed order mutations
func (self *MerchantClient) AddOrderRevertCallback(revertCallback RevertFunction) func() {
	return self.ordersReconciler.AddRevertCallback(revertCallback)
}

// order actions

func (self *MerchantClient) AcceptOrder(ctx context.Context, orderId Id) (MutateOutcome, error) {
	return self.ordersMutator.Mutate(ctx, orderId, AcceptOrderTransform)
}

func (self *MerchantClient) CompleteOrder(ctx context.Context, orderId Id) (MutateOutcome, error) {
	return self.ordersMutator.Mutate(ctx, orderId, CompleteOrderTransform)
}

func (self *MerchantClient) Mutate(ctx context.Context, orderId Id, transform TransformFunction[*Order]) (MutateOutcome, error) {
	return self.ordersMutator.Mutate(ctx, orderId, transform)
}

// closed on the next change to any collection
func (self *MerchantClient) UpdateChannel() <-chan struct{} {
	notify := make(chan struct{})
	go func() {
		defer close(notify)
		select {
		case <-self.ctx.Done():
		case <-self.ordersStore.NotifyChannel():
		case <-self.notificationsStore.NotifyChannel():
		case <-self.statusStore.NotifyChannel():
		case <-self.inventoryStore.NotifyChannel():
		}
	}()
	return notify
}

// notification actions

func (self *MerchantClient) MarkNotificationRead(ctx context.Context, notificationId Id) (MutateOutcome, error) {
	if notification, ok := self.notificationsStore.Get(notificationId); ok && notification.IsRead {
		// already read. is_read is monotonic
		return MutateOutcomeConfirmed, nil
	}
	return self.notificationsMutator.Mutate(ctx, notificationId, MarkReadTransform)
}

func (self *MerchantClient) MarkAllNotificationsRead(ctx context.Context) error {
	for _, notification := range self.notificationsStore.Snapshot() {
		if notification.IsRead {
			continue
		}
		if _, err := self.MarkNotificationRead(ctx, notification.NotificationId); err != nil {
			return err
		}
	}
	return nil
}

// optimistic delete with rollback. a deleted id cannot reappear through
// replayed events
func (self *MerchantClient) DeleteNotification(ctx context.Context, notificationId Id) error {
	cached, ok := self.notificationsStore.Get(notificationId)
	if !ok {
		return nil
	}

	self.notificationsStore.RemoveForever(notificationId)

	result, err := self.api.DeleteSync(&DeleteArgs{
		Table: TableNotifications,
		Filter: Filter{
			"id": notificationId.String(),
		},
	})
	if err == nil {
		err = writeResultError(result)
	}
	if err != nil {
		self.notificationsStore.ClearTombstone(notificationId)
		self.notificationsStore.Upsert(cached)
		return err
	}
	return nil
}

// status actions

func (self *MerchantClient) SetVisibility(ctx context.Context, isVisible bool) (MutateOutcome, error) {
	outcome, err := self.mutateStatus(ctx, SetVisibilityTransform(isVisible))
	if err == nil {
		go trackVisibilityChange(self.api, self.session.MerchantId, isVisible)
	}
	return outcome, err
}

func (self *MerchantClient) SetPrepTime(ctx context.Context, prepTimeMinutes int) (MutateOutcome, error) {
	return self.mutateStatus(ctx, SetPrepTimeTransform(prepTimeMinutes))
}

func (self *MerchantClient) SetAutoPrint(ctx context.Context, enabled bool) (MutateOutcome, error) {
	return self.mutateStatus(ctx, SetAutoPrintTransform(enabled))
}

func (self *MerchantClient) SetChime(ctx context.Context, enabled bool) (MutateOutcome, error) {
	return self.mutateStatus(ctx, SetChimeTransform(enabled))
}

func (self *MerchantClient) mutateStatus(ctx context.Context, transform TransformFunction[*MerchantStatus]) (MutateOutcome, error) {
	statusId := MerchantStatusId(self.session.MerchantId)
	if _, ok := self.statusStore.Get(statusId); !ok {
		// first mutation before the initial load resolves
		status, err := EnsureMerchantStatus(self.api, self.session.MerchantId)
		if err != nil {
			return MutateOutcomeRejected, err
		}
		self.statusStore.Upsert(status)
	}
	return self.statusMutator.Mutate(ctx, statusId, transform)
}

// inventory actions

func (self *MerchantClient) UpdateInventory(item *InventoryItem) (*InventoryItem, error) {
	updated, err := UpdateInventoryItem(self.api, item)
	if err != nil {
		return nil, err
	}
	self.inventoryStore.Upsert(updated)
	return updated, nil
}

func (self *MerchantClient) CreateInventory(productName string) (*InventoryItem, error) {
	created, err := CreateInventoryItem(self.api, self.session.MerchantId, productName)
	if err != nil {
		return nil, err
	}
	self.inventoryStore.Upsert(created)
	return created, nil
}

// payout actions

func (self *MerchantClient) SubmitPayout(amount decimal.Decimal, mpesaPhone string) (*PaymentRequest, error) {
	return SubmitPaymentRequest(
		self.api,
		self.session.MerchantId,
		self.session.MerchantName,
		amount,
		mpesaPhone,
	)
}

func (self *MerchantClient) PaymentRequests() ([]*PaymentRequest, error) {
	return FetchPaymentRequests(self.api, self.session.MerchantId)
}

// releases all feeds and reconcilers. in-flight event callbacks that
// arrive after close are discarded, not applied
func (self *MerchantClient) Close() {
	self.cancel()

	self.ordersFeed.Close()
	self.notificationsFeed.Close()
	self.statusFeed.Close()
	self.inventoryFeed.Close()

	self.ordersReconciler.Close()
	self.notificationsReconciler.Close()
	self.statusReconciler.Close()
	self.inventoryReconciler.Close()

	self.ordersMutator.Close()
	self.notificationsMutator.Close()
	self.statusMutator.Close()

	self.revenue.Close()
}
