package merchant

import (
	"reflect"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// a store entry transition. `Before` is the zero value on insert,
// `After` is the zero value on remove.
type StoreEntryChange[T Record] struct {
	RecordId Id
	Before   T
	After    T
}

type StoreChangeFunction[T Record] func(changes []*StoreEntryChange[T])

// in-memory cache of one entity collection keyed by record id.
// mutated only by the owning Reconciler and by OptimisticMutator
// instances acting on its behalf. reads are always via a snapshot copy
// so concurrent readers never observe a partial update.
type CollectionStore[T Record] struct {
	// snapshot order. nil leaves the snapshot unordered
	cmp func(a T, b T) int

	stateLock      sync.Mutex
	records        map[Id]T
	unconfirmedIds map[Id]bool
	// ids deleted by local operations. a tombstoned id cannot reappear
	// through a late or replayed event. an authoritative fetch that
	// still contains the id clears the tombstone
	tombstoneIds map[Id]bool

	update          *Monitor
	changeCallbacks *CallbackList[StoreChangeFunction[T]]
}

func NewCollectionStore[T Record](cmp func(a T, b T) int) *CollectionStore[T] {
	return &CollectionStore[T]{
		cmp:             cmp,
		records:         map[Id]T{},
		unconfirmedIds:  map[Id]bool{},
		tombstoneIds:    map[Id]bool{},
		update:          NewMonitor(),
		changeCallbacks: NewCallbackList[StoreChangeFunction[T]](),
	}
}

func (self *CollectionStore[T]) AddChangeCallback(changeCallback StoreChangeFunction[T]) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

// closed and replaced on every store change
func (self *CollectionStore[T]) NotifyChannel() chan struct{} {
	return self.update.NotifyChannel()
}

func (self *CollectionStore[T]) Get(recordId Id) (T, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	record, ok := self.records[recordId]
	return record, ok
}

func (self *CollectionStore[T]) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.records)
}

func (self *CollectionStore[T]) Snapshot() []T {
	self.stateLock.Lock()
	records := maps.Values(self.records)
	self.stateLock.Unlock()

	if self.cmp != nil {
		slices.SortStableFunc(records, self.cmp)
	}
	return records
}

// upsert by id. inserting a present id replaces the record.
// a tombstoned id is a no-op
func (self *CollectionStore[T]) Upsert(record T) {
	var change *StoreEntryChange[T]
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.tombstoneIds[record.RecordId()] {
			return
		}
		change = &StoreEntryChange[T]{
			RecordId: record.RecordId(),
			Before:   self.records[record.RecordId()],
			After:    record,
		}
		self.records[record.RecordId()] = record
	}()

	if change != nil {
		self.changed([]*StoreEntryChange[T]{change})
	}
}

// replaces the record only if the cached record is still `expect`.
// used to roll back a speculative record without clobbering an
// authoritative replacement that arrived in the meantime
func (self *CollectionStore[T]) CompareAndUpsert(recordId Id, expect T, record T) bool {
	var change *StoreEntryChange[T]
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		cached, ok := self.records[recordId]
		if !ok || any(cached) != any(expect) {
			return
		}
		change = &StoreEntryChange[T]{
			RecordId: recordId,
			Before:   cached,
			After:    record,
		}
		self.records[recordId] = record
		delete(self.unconfirmedIds, recordId)
	}()

	if change == nil {
		return false
	}
	self.changed([]*StoreEntryChange[T]{change})
	return true
}

// removing a non-present id is a no-op
func (self *CollectionStore[T]) Remove(recordId Id) {
	var change *StoreEntryChange[T]
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		record, ok := self.records[recordId]
		if !ok {
			return
		}
		change = &StoreEntryChange[T]{
			RecordId: recordId,
			Before:   record,
		}
		delete(self.records, recordId)
		delete(self.unconfirmedIds, recordId)
	}()

	if change != nil {
		self.changed([]*StoreEntryChange[T]{change})
	}
}

// remove and prevent the id from reappearing through replayed events
func (self *CollectionStore[T]) RemoveForever(recordId Id) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.tombstoneIds[recordId] = true
	}()
	self.Remove(recordId)
}

// undo a tombstone after a failed remote delete so the cached record
// can be restored
func (self *CollectionStore[T]) ClearTombstone(recordId Id) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	delete(self.tombstoneIds, recordId)
}

// bulk replace with an authoritative fetch. unconfirmed entries not
// present in `records` are discarded. returns the ids of discarded
// unconfirmed entries so the caller can surface reverts
func (self *CollectionStore[T]) Replace(records []T) (revertedIds []Id) {
	changes := []*StoreEntryChange[T]{}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		nextRecords := map[Id]T{}
		for _, record := range records {
			nextRecords[record.RecordId()] = record
			// the fetch is authoritative. a locally deleted id still
			// present remotely comes back
			delete(self.tombstoneIds, record.RecordId())
		}

		for recordId, record := range self.records {
			next, ok := nextRecords[recordId]
			if !ok {
				changes = append(changes, &StoreEntryChange[T]{
					RecordId: recordId,
					Before:   record,
				})
				if self.unconfirmedIds[recordId] {
					revertedIds = append(revertedIds, recordId)
				}
			} else if !reflect.DeepEqual(next, record) {
				changes = append(changes, &StoreEntryChange[T]{
					RecordId: recordId,
					Before:   record,
					After:    next,
				})
				// an unconfirmed entry the fetch disagrees with was reverted.
				// an unconfirmed entry the fetch matches was confirmed
				if self.unconfirmedIds[recordId] {
					revertedIds = append(revertedIds, recordId)
				}
			}
		}
		for recordId, record := range nextRecords {
			if _, ok := self.records[recordId]; !ok {
				changes = append(changes, &StoreEntryChange[T]{
					RecordId: recordId,
					After:    record,
				})
			}
		}

		self.records = nextRecords
		self.unconfirmedIds = map[Id]bool{}
	}()

	if 0 < len(changes) {
		self.changed(changes)
	}
	return revertedIds
}

// optimistic mutation tags. an unconfirmed record is speculative local
// state awaiting either a matching change event or a write response

func (self *CollectionStore[T]) MarkUnconfirmed(recordId Id) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.unconfirmedIds[recordId] = true
}

func (self *CollectionStore[T]) ClearUnconfirmed(recordId Id) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	delete(self.unconfirmedIds, recordId)
}

func (self *CollectionStore[T]) IsUnconfirmed(recordId Id) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.unconfirmedIds[recordId]
}

func (self *CollectionStore[T]) changed(changes []*StoreEntryChange[T]) {
	self.update.NotifyAll()
	for _, changeCallback := range self.changeCallbacks.Get() {
		func() {
			defer recover()
			changeCallback(changes)
		}()
	}
}
