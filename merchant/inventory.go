package merchant

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
)

const TableMerchantInventory = "merchant_inventory"
const TableMerchantPerformanceLog = "merchant_performance_log"

const DefaultMinimumStock = 10
const DefaultMaximumStock = 100

func FetchInventory(store RemoteStore, merchantId string) ([]*InventoryItem, error) {
	result, err := store.FetchAllSync(&FetchAllArgs{
		Table: TableMerchantInventory,
		Filter: Filter{
			"merchant_id": merchantId,
		},
		OrderBy:   "product_name",
		Ascending: true,
	})
	if err != nil {
		return nil, err
	}
	return DecodeRecords[*InventoryItem](result)
}

// snapshot order for the inventory store, by product name
func CompareInventoryItems(a *InventoryItem, b *InventoryItem) int {
	return strings.Compare(a.ProductName, b.ProductName)
}

// upserts an inventory item. the status is always re-derived from the
// stock levels, never trusted from the input record
func UpdateInventoryItem(store RemoteStore, item *InventoryItem) (*InventoryItem, error) {
	if item.CurrentStock < 0 {
		return nil, &ValidationError{
			Field:   "current_stock",
			Message: "stock cannot be negative",
		}
	}
	if item.MaximumStock <= 0 {
		return nil, &ValidationError{
			Field:   "maximum_stock",
			Message: "maximum stock must be positive",
		}
	}
	if item.MaximumStock < item.CurrentStock {
		return nil, &ValidationError{
			Field:   "current_stock",
			Message: "stock cannot exceed the maximum",
		}
	}

	next := *item
	next.Status = DeriveInventoryStatus(next.CurrentStock, next.MaximumStock)
	next.UpdatedTime = time.Now()

	result, err := store.UpsertSync(&UpsertArgs{
		Table:       TableMerchantInventory,
		Record:      &next,
		ConflictKey: "id",
	})
	if err != nil {
		return nil, err
	}
	if err := writeResultError(result); err != nil {
		return nil, err
	}

	// non-blocking side channel for admin monitoring, deliberately
	// fire and forget
	go trackInventoryChange(store, next.MerchantId, next.ProductName, next.Status)

	return &next, nil
}

func CreateInventoryItem(store RemoteStore, merchantId string, productName string) (*InventoryItem, error) {
	if strings.TrimSpace(productName) == "" {
		return nil, &ValidationError{
			Field:   "product_name",
			Message: "product name is required",
		}
	}
	item := &InventoryItem{
		ItemId:       NewId(),
		MerchantId:   merchantId,
		ProductId:    fmt.Sprintf("PROD%d", time.Now().UnixMilli()),
		ProductName:  productName,
		CurrentStock: 0,
		MinimumStock: DefaultMinimumStock,
		MaximumStock: DefaultMaximumStock,
	}
	return UpdateInventoryItem(store, item)
}

func trackInventoryChange(store RemoteStore, merchantId string, productName string, status InventoryStatus) {
	result, err := store.UpsertSync(&UpsertArgs{
		Table: TableMerchantPerformanceLog,
		Record: map[string]any{
			"merchant_id":   merchantId,
			"event_type":    "inventory_update",
			"event_details": fmt.Sprintf("%s - Status: %s", productName, status),
			"timestamp":     time.Now(),
		},
	})
	if err == nil {
		err = writeResultError(result)
	}
	if err != nil {
		glog.V(1).Infof("[track]performance log error = %s\n", err)
	}
}
