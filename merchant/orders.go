package merchant

import (
	"context"
	"time"
)

const TableOrders = "orders"
const TableOrderItems = "order_items"

// row shape of the order_items table
type orderItemRow struct {
	OrderId     Id     `json:"order_id"`
	ProductId   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
}

// bulk load of one merchant's orders joined with their line items,
// newest first. an empty `status` fetches all statuses
func FetchOrders(store RemoteStore, merchantId string, status OrderStatus) ([]*Order, error) {
	filter := Filter{
		"merchant_id": merchantId,
	}
	if status != "" {
		filter["status"] = status
	}

	ordersResult, err := store.FetchAllSync(&FetchAllArgs{
		Table:   TableOrders,
		Filter:  filter,
		OrderBy: "created_at",
	})
	if err != nil {
		return nil, err
	}
	orders, err := DecodeRecords[*Order](ordersResult)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	orderIds := make([]string, 0, len(orders))
	for _, order := range orders {
		orderIds = append(orderIds, order.OrderId.String())
	}
	itemsResult, err := store.FetchAllSync(&FetchAllArgs{
		Table: TableOrderItems,
		Filter: Filter{
			// a list value means membership
			"order_id": orderIds,
		},
	})
	if err != nil {
		return nil, err
	}
	itemRows, err := DecodeRecords[*orderItemRow](itemsResult)
	if err != nil {
		return nil, err
	}

	orderItems := map[Id][]*OrderItem{}
	for _, itemRow := range itemRows {
		orderItems[itemRow.OrderId] = append(orderItems[itemRow.OrderId], &OrderItem{
			ProductId:   itemRow.ProductId,
			ProductName: itemRow.ProductName,
			Quantity:    itemRow.Quantity,
		})
	}
	for _, order := range orders {
		order.Items = orderItems[order.OrderId]
	}

	return orders, nil
}

// snapshot order for the orders store, newest first
func CompareOrders(a *Order, b *Order) int {
	if a.CreatedTime.After(b.CreatedTime) {
		return -1
	} else if b.CreatedTime.After(a.CreatedTime) {
		return 1
	}
	return 0
}

// an order change event post-image carries only the orders row.
// keep the already joined line items from the cached record
func MergeOrderItems(cached *Order, incoming *Order) *Order {
	if incoming.Items == nil && cached != nil {
		incoming.Items = cached.Items
	}
	return incoming
}

// remote write for an order status mutation
func OrderStatusWrite(store RemoteStore) WriteFunction[*Order] {
	return func(ctx context.Context, order *Order) error {
		result, err := store.UpdateSync(&UpdateArgs{
			Table: TableOrders,
			Filter: Filter{
				"id": order.OrderId.String(),
			},
			Patch: map[string]any{
				"status":     order.Status,
				"updated_at": order.UpdatedTime,
			},
		})
		if err != nil {
			return err
		}
		return writeResultError(result)
	}
}

// merchant accept: pending -> preparing
func AcceptOrderTransform(order *Order) (*Order, error) {
	return transitionOrder(order, OrderStatusPreparing)
}

// merchant complete: preparing -> ready
func CompleteOrderTransform(order *Order) (*Order, error) {
	return transitionOrder(order, OrderStatusReady)
}

func transitionOrder(order *Order, to OrderStatus) (*Order, error) {
	if err := CanTransitionOrder(order.Status, to, ActorMerchant); err != nil {
		return nil, err
	}
	now := time.Now()
	next := *order
	next.Status = to
	next.UpdatedTime = &now
	return &next, nil
}
