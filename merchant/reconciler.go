package merchant

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"github.com/golang/glog"
)

// applies change feed events to a collection store under an idempotent,
// order-tolerant policy:
// - insert: upsert by id (duplicate-insert replay is harmless)
// - update: upsert by id, replacing the whole cached record with the
//   post-image. a post-image older than the cached revision is a no-op
// - delete: remove by id (no-op when absent)
// on resync the authoritative fetch wins. unconfirmed optimistic entries
// the fetch disagrees with are reverted and surfaced via callback

type FetchFunction[T Record] func(ctx context.Context) ([]T, error)

// reconciles the post-image with fields the row itself does not carry,
// e.g. joined sub-collections. nil keeps the post-image as is
type MergeFunction[T Record] func(cached T, incoming T) T

type RevertFunction func(revertedIds []Id)

type ReconcilerSettings[T Record] struct {
	FetchTimeout time.Duration
	Merge        MergeFunction[T]
}

func DefaultReconcilerSettings[T Record]() *ReconcilerSettings[T] {
	return &ReconcilerSettings[T]{
		FetchTimeout: 15 * time.Second,
	}
}

type Reconciler[T Record] struct {
	ctx    context.Context
	cancel context.CancelFunc

	store *CollectionStore[T]
	feed  *ChangeFeedClient
	fetch FetchFunction[T]

	settings *ReconcilerSettings[T]

	stateLock sync.Mutex
	loaded    bool
	lastError error

	revertCallbacks *CallbackList[RevertFunction]
}

func NewReconcilerWithDefaults[T Record](
	ctx context.Context,
	store *CollectionStore[T],
	feed *ChangeFeedClient,
	fetch FetchFunction[T],
) *Reconciler[T] {
	return NewReconciler(ctx, store, feed, fetch, DefaultReconcilerSettings[T]())
}

// `feed` may be nil, in which case only the initial bulk load runs.
// callers that pass a feed own neither it nor the store lifecycle here;
// closing the reconciler closes neither
func NewReconciler[T Record](
	ctx context.Context,
	store *CollectionStore[T],
	feed *ChangeFeedClient,
	fetch FetchFunction[T],
	settings *ReconcilerSettings[T],
) *Reconciler[T] {
	cancelCtx, cancel := context.WithCancel(ctx)
	reconciler := &Reconciler[T]{
		ctx:             cancelCtx,
		cancel:          cancel,
		store:           store,
		feed:            feed,
		fetch:           fetch,
		settings:        settings,
		revertCallbacks: NewCallbackList[RevertFunction](),
	}
	go reconciler.run()
	return reconciler
}

func (self *Reconciler[T]) AddRevertCallback(revertCallback RevertFunction) func() {
	callbackId := self.revertCallbacks.Add(revertCallback)
	return func() {
		self.revertCallbacks.Remove(callbackId)
	}
}

// whether the initial bulk load completed at least once
func (self *Reconciler[T]) Loaded() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.loaded
}

// the error of the most recent fetch. a failed fetch leaves the
// previous snapshot visible rather than blanking the store
func (self *Reconciler[T]) LastError() error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.lastError
}

func (self *Reconciler[T]) run() {
	defer self.cancel()

	self.Refetch()

	if self.feed == nil {
		return
	}

	for {
		select {
		case <-self.ctx.Done():
			return
		case feedEvent, ok := <-self.feed.Events():
			if !ok {
				return
			}
			// a closed view must not apply late events
			select {
			case <-self.ctx.Done():
				return
			default:
			}
			if feedEvent.Resync {
				self.Refetch()
			} else {
				self.Apply(feedEvent.Event)
			}
		}
	}
}

// drift correction. replaces the snapshot with an authoritative fetch
func (self *Reconciler[T]) Refetch() {
	fetchCtx, fetchCancel := context.WithTimeout(self.ctx, self.settings.FetchTimeout)
	defer fetchCancel()

	records, err := self.fetch(fetchCtx)
	if err != nil {
		glog.Infof("[sync]fetch error = %s\n", err)
		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			self.lastError = err
		}()
		return
	}

	revertedIds := self.store.Replace(records)

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.loaded = true
		self.lastError = nil
	}()

	if 0 < len(revertedIds) {
		self.reverted(revertedIds)
	}
}

// applying the same event twice, or an event older than the cached
// revision, leaves the cache unchanged
func (self *Reconciler[T]) Apply(event *ChangeEvent) {
	switch event.Op {
	case ChangeOpInsert, ChangeOpUpdate:
		var record T
		if err := json.Unmarshal(event.After, &record); err != nil {
			glog.Infof("[sync]bad post-image = %s\n", err)
			return
		}

		revision := event.Revision
		if revision == 0 {
			revision = record.RecordRevision()
		}

		if cached, ok := self.store.Get(record.RecordId()); ok {
			if revision != 0 && cached.RecordRevision() != 0 && revision <= cached.RecordRevision() {
				// stale replay
				return
			}
			if self.settings.Merge != nil {
				record = self.settings.Merge(cached, record)
			}
			if reflect.DeepEqual(cached, record) {
				// duplicate replay
				return
			}
		}

		self.store.Upsert(record)
		// the feed is the authoritative confirmation for this id
		self.store.ClearUnconfirmed(record.RecordId())
	case ChangeOpDelete:
		var record T
		image := event.Before
		if image == nil {
			image = event.After
		}
		if err := json.Unmarshal(image, &record); err != nil {
			glog.Infof("[sync]bad delete image = %s\n", err)
			return
		}
		self.store.Remove(record.RecordId())
	}
}

func (self *Reconciler[T]) reverted(revertedIds []Id) {
	for _, revertCallback := range self.revertCallbacks.Get() {
		func() {
			defer recover()
			revertCallback(revertedIds)
		}()
	}
}

func (self *Reconciler[T]) Close() {
	self.cancel()
}
