package merchant

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// applies a speculative local mutation ahead of remote confirmation.
// protocol per mutation:
// 1. compute the speculative record from the cached record
// 2. write it into the collection store tagged unconfirmed
// 3. issue the remote write
// 4a. on success, wait for a matching change event to clear the tag;
//     past a bounded interval the write response is ground truth
// 4b. on failure, roll back to the pre-mutation record
// mutations for the same id are serialized through a per-id queue so a
// second request never races the first

type MutateOutcome string

const (
	// a matching change event confirmed the new state
	MutateOutcomeConfirmed MutateOutcome = "Confirmed"
	// no change event arrived in time; the write response is ground truth
	MutateOutcomeApplied MutateOutcome = "Applied"
	// the remote write failed and the speculative state was reverted
	MutateOutcomeRolledBack MutateOutcome = "RolledBack"
	// rejected locally before any state change
	MutateOutcomeRejected MutateOutcome = "Rejected"
)

type TransformFunction[T Record] func(record T) (T, error)

type WriteFunction[T Record] func(ctx context.Context, record T) error

type OptimisticMutatorSettings struct {
	ConfirmationTimeout time.Duration
	WriteTimeout        time.Duration
}

func DefaultOptimisticMutatorSettings() *OptimisticMutatorSettings {
	return &OptimisticMutatorSettings{
		ConfirmationTimeout: 5 * time.Second,
		WriteTimeout:        15 * time.Second,
	}
}

type mutationResult struct {
	outcome MutateOutcome
	err     error
}

type pendingMutation[T Record] struct {
	recordId  Id
	transform TransformFunction[T]
	result    chan *mutationResult
}

type OptimisticMutator[T Record] struct {
	ctx    context.Context
	cancel context.CancelFunc

	store *CollectionStore[T]
	write WriteFunction[T]

	settings *OptimisticMutatorSettings

	stateLock sync.Mutex
	// id -> fifo of mutations awaiting their turn
	idQueues map[Id][]*pendingMutation[T]
}

func NewOptimisticMutatorWithDefaults[T Record](
	ctx context.Context,
	store *CollectionStore[T],
	write WriteFunction[T],
) *OptimisticMutator[T] {
	return NewOptimisticMutator(ctx, store, write, DefaultOptimisticMutatorSettings())
}

func NewOptimisticMutator[T Record](
	ctx context.Context,
	store *CollectionStore[T],
	write WriteFunction[T],
	settings *OptimisticMutatorSettings,
) *OptimisticMutator[T] {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &OptimisticMutator[T]{
		ctx:      cancelCtx,
		cancel:   cancel,
		store:    store,
		write:    write,
		settings: settings,
		idQueues: map[Id][]*pendingMutation[T]{},
	}
}

// blocks until the mutation resolves. a mutation for an id with one
// already in flight queues and applies after the first resolves
func (self *OptimisticMutator[T]) Mutate(
	ctx context.Context,
	recordId Id,
	transform TransformFunction[T],
) (MutateOutcome, error) {
	mutation := &pendingMutation[T]{
		recordId:  recordId,
		transform: transform,
		result:    make(chan *mutationResult, 1),
	}

	start := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		pending, ok := self.idQueues[recordId]
		if !ok {
			start = true
		}
		self.idQueues[recordId] = append(pending, mutation)
	}()
	if start {
		go self.drain(recordId)
	}

	select {
	case <-self.ctx.Done():
		return MutateOutcomeRejected, self.ctx.Err()
	case <-ctx.Done():
		// the mutation stays queued and still runs; only the wait is abandoned
		return MutateOutcomeRejected, ctx.Err()
	case result := <-mutation.result:
		return result.outcome, result.err
	}
}

func (self *OptimisticMutator[T]) drain(recordId Id) {
	for {
		var mutation *pendingMutation[T]
		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()

			pending := self.idQueues[recordId]
			if len(pending) == 0 {
				delete(self.idQueues, recordId)
				return
			}
			mutation = pending[0]
			self.idQueues[recordId] = pending[1:]
		}()
		if mutation == nil {
			return
		}

		outcome, err := self.apply(mutation)
		mutation.result <- &mutationResult{
			outcome: outcome,
			err:     err,
		}
	}
}

func (self *OptimisticMutator[T]) apply(mutation *pendingMutation[T]) (MutateOutcome, error) {
	cached, ok := self.store.Get(mutation.recordId)
	if !ok {
		return MutateOutcomeRejected, &NotFoundError{Table: "record"}
	}

	speculative, err := mutation.transform(cached)
	if err != nil {
		// rejected before any state change
		return MutateOutcomeRejected, err
	}

	self.store.Upsert(speculative)
	self.store.MarkUnconfirmed(mutation.recordId)

	writeErr := func() error {
		writeCtx, writeCancel := context.WithTimeout(self.ctx, self.settings.WriteTimeout)
		defer writeCancel()
		return self.write(writeCtx, speculative)
	}()
	if writeErr != nil {
		// roll back unless the feed already replaced the speculative record
		if self.store.CompareAndUpsert(mutation.recordId, speculative, cached) {
			glog.V(1).Infof("[mutate]rollback %s = %s\n", mutation.recordId, writeErr)
		}
		self.store.ClearUnconfirmed(mutation.recordId)
		return MutateOutcomeRolledBack, writeErr
	}

	// bounded wait for the feed to confirm
	enterTime := time.Now()
	for {
		notify := self.store.NotifyChannel()
		if !self.store.IsUnconfirmed(mutation.recordId) {
			return MutateOutcomeConfirmed, nil
		}

		remainingTimeout := enterTime.Add(self.settings.ConfirmationTimeout).Sub(time.Now())
		if remainingTimeout <= 0 {
			// the write's own success response is ground truth
			self.store.ClearUnconfirmed(mutation.recordId)
			return MutateOutcomeApplied, nil
		}
		select {
		case <-self.ctx.Done():
			self.store.ClearUnconfirmed(mutation.recordId)
			return MutateOutcomeApplied, nil
		case <-notify:
		case <-time.After(remainingTimeout):
			self.store.ClearUnconfirmed(mutation.recordId)
			return MutateOutcomeApplied, nil
		}
	}
}

func (self *OptimisticMutator[T]) Close() {
	self.cancel()
}
