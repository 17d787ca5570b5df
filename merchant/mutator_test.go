package merchant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func testMutatorSettings() *OptimisticMutatorSettings {
	return &OptimisticMutatorSettings{
		ConfirmationTimeout: 200 * time.Millisecond,
		WriteTimeout:        5 * time.Second,
	}
}

func TestMutatorApplied(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewCollectionStore[*Order](CompareOrders)
	orderId := NewId()
	store.Upsert(testOrder(orderId, OrderStatusPending, 5000, time.Now()))

	write := func(ctx context.Context, order *Order) error {
		return nil
	}
	mutator := NewOptimisticMutator(ctx, store, write, testMutatorSettings())
	defer mutator.Close()

	// no change event arrives. past the bounded wait the write response
	// is ground truth
	outcome, err := mutator.Mutate(ctx, orderId, AcceptOrderTransform)
	assert.Equal(t, err, nil)
	assert.Equal(t, outcome, MutateOutcomeApplied)

	order, _ := store.Get(orderId)
	assert.Equal(t, order.Status, OrderStatusPreparing)
	assert.Equal(t, store.IsUnconfirmed(orderId), false)
}

func TestMutatorConfirmed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewCollectionStore[*Order](CompareOrders)
	orderId := NewId()
	createdTime := time.Now()
	store.Upsert(testOrder(orderId, OrderStatusPending, 5000, createdTime))

	write := func(ctx context.Context, order *Order) error {
		// simulate the matching change event arriving after the write
		go func() {
			confirmed := testOrder(orderId, OrderStatusPreparing, 5000, createdTime)
			store.ClearUnconfirmed(orderId)
			store.Upsert(confirmed)
		}()
		return nil
	}
	mutator := NewOptimisticMutator(ctx, store, write, testMutatorSettings())
	defer mutator.Close()

	outcome, err := mutator.Mutate(ctx, orderId, AcceptOrderTransform)
	assert.Equal(t, err, nil)
	assert.Equal(t, outcome, MutateOutcomeConfirmed)
}

func TestMutatorRolledBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewCollectionStore[*Order](CompareOrders)
	orderId := NewId()
	store.Upsert(testOrder(orderId, OrderStatusPending, 5000, time.Now()))

	writeErr := errors.New("write failed")
	write := func(ctx context.Context, order *Order) error {
		// the speculative state is visible while the write is in flight
		cached, _ := store.Get(orderId)
		assert.Equal(t, cached.Status, OrderStatusPreparing)
		return writeErr
	}
	mutator := NewOptimisticMutator(ctx, store, write, testMutatorSettings())
	defer mutator.Close()

	outcome, err := mutator.Mutate(ctx, orderId, AcceptOrderTransform)
	assert.Equal(t, err, writeErr)
	assert.Equal(t, outcome, MutateOutcomeRolledBack)

	// the cache is back at the pre-mutation record
	order, _ := store.Get(orderId)
	assert.Equal(t, order.Status, OrderStatusPending)
	assert.Equal(t, store.IsUnconfirmed(orderId), false)
}

func TestMutatorRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewCollectionStore[*Order](CompareOrders)
	orderId := NewId()
	store.Upsert(testOrder(orderId, OrderStatusReady, 5000, time.Now()))

	writeCount := 0
	write := func(ctx context.Context, order *Order) error {
		writeCount += 1
		return nil
	}
	mutator := NewOptimisticMutator(ctx, store, write, testMutatorSettings())
	defer mutator.Close()

	// accept from ready is not a valid merchant transition
	outcome, err := mutator.Mutate(ctx, orderId, AcceptOrderTransform)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, outcome, MutateOutcomeRejected)

	// rejected before any state change, local or remote
	order, _ := store.Get(orderId)
	assert.Equal(t, order.Status, OrderStatusReady)
	assert.Equal(t, writeCount, 0)
}

func TestMutatorMissingRecord(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewCollectionStore[*Order](CompareOrders)
	write := func(ctx context.Context, order *Order) error {
		return nil
	}
	mutator := NewOptimisticMutator(ctx, store, write, testMutatorSettings())
	defer mutator.Close()

	outcome, err := mutator.Mutate(ctx, NewId(), AcceptOrderTransform)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, outcome, MutateOutcomeRejected)
}

func TestMutatorQueuesPerId(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewCollectionStore[*Order](CompareOrders)
	orderId := NewId()
	store.Upsert(testOrder(orderId, OrderStatusPending, 5000, time.Now()))

	var writeLock sync.Mutex
	inFlight := 0
	maxInFlight := 0
	writes := []OrderStatus{}
	write := func(ctx context.Context, order *Order) error {
		func() {
			writeLock.Lock()
			defer writeLock.Unlock()
			inFlight += 1
			if maxInFlight < inFlight {
				maxInFlight = inFlight
			}
			writes = append(writes, order.Status)
		}()
		time.Sleep(50 * time.Millisecond)

		writeLock.Lock()
		defer writeLock.Unlock()
		inFlight -= 1
		return nil
	}
	mutator := NewOptimisticMutator(ctx, store, write, testMutatorSettings())
	defer mutator.Close()

	// the second request queues behind the first and applies to its result
	var waitGroup sync.WaitGroup
	outcomes := make([]MutateOutcome, 2)
	errs := make([]error, 2)

	waitGroup.Add(1)
	go func() {
		defer waitGroup.Done()
		outcomes[0], errs[0] = mutator.Mutate(ctx, orderId, AcceptOrderTransform)
	}()
	time.Sleep(10 * time.Millisecond)
	waitGroup.Add(1)
	go func() {
		defer waitGroup.Done()
		outcomes[1], errs[1] = mutator.Mutate(ctx, orderId, CompleteOrderTransform)
	}()
	waitGroup.Wait()

	assert.Equal(t, errs[0], nil)
	assert.Equal(t, errs[1], nil)
	assert.Equal(t, outcomes[0], MutateOutcomeApplied)
	assert.Equal(t, outcomes[1], MutateOutcomeApplied)

	writeLock.Lock()
	// never more than one write in flight for an id
	assert.Equal(t, maxInFlight, 1)
	assert.Equal(t, writes, []OrderStatus{OrderStatusPreparing, OrderStatusReady})
	writeLock.Unlock()

	order, _ := store.Get(orderId)
	assert.Equal(t, order.Status, OrderStatusReady)
}
