package merchant

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestUpdateInventoryItemDerivesStatus(t *testing.T) {
	remote := newTestRemoteStore()

	item := &InventoryItem{
		ItemId:       NewId(),
		MerchantId:   "m1",
		ProductId:    "p1",
		ProductName:  "Chips",
		CurrentStock: 20,
		MaximumStock: 100,
		// a stale input status is never trusted
		Status: InventoryStatusGood,
	}

	updated, err := UpdateInventoryItem(remote, item)
	assert.Equal(t, err, nil)
	assert.Equal(t, updated.Status, InventoryStatusDanger)
	// the input record is not mutated
	assert.Equal(t, item.Status, InventoryStatusGood)

	assert.Equal(t, remote.upsertCount(TableMerchantInventory), 1)
	waitForUpserts(t, remote, TableMerchantPerformanceLog, 1)
}

func TestUpdateInventoryItemValidation(t *testing.T) {
	remote := newTestRemoteStore()

	negative := &InventoryItem{ItemId: NewId(), CurrentStock: -1, MaximumStock: 100}
	_, err := UpdateInventoryItem(remote, negative)
	assert.NotEqual(t, err, nil)

	zeroMax := &InventoryItem{ItemId: NewId(), CurrentStock: 0, MaximumStock: 0}
	_, err = UpdateInventoryItem(remote, zeroMax)
	assert.NotEqual(t, err, nil)

	overMax := &InventoryItem{ItemId: NewId(), CurrentStock: 150, MaximumStock: 100}
	_, err = UpdateInventoryItem(remote, overMax)
	assert.NotEqual(t, err, nil)

	// rejected locally, no remote write happens
	assert.Equal(t, len(remote.upserts), 0)
}

func TestCreateInventoryItemDefaults(t *testing.T) {
	remote := newTestRemoteStore()

	item, err := CreateInventoryItem(remote, "m1", "Chips")
	assert.Equal(t, err, nil)
	assert.Equal(t, item.MerchantId, "m1")
	assert.Equal(t, item.ProductName, "Chips")
	assert.Equal(t, item.CurrentStock, 0)
	assert.Equal(t, item.MinimumStock, DefaultMinimumStock)
	assert.Equal(t, item.MaximumStock, DefaultMaximumStock)
	assert.Equal(t, item.Status, InventoryStatusDanger)

	_, err = CreateInventoryItem(remote, "m1", "   ")
	assert.NotEqual(t, err, nil)
}
