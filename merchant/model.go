package merchant

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// records stored in a `CollectionStore` are immutable once inserted.
// every write replaces the whole record. mutating a stored record in
// place breaks snapshot isolation.

type Record interface {
	// stable server-assigned identity
	RecordId() Id
	// monotonic per-record version assigned at the remote store boundary.
	// 0 means the store did not provide one and stale-replay detection
	// degrades to last-writer-wins.
	RecordRevision() uint64
}

// order status state machine is:
// OrderStatusPending
//
//	-> OrderStatusPreparing (merchant accept)
//	  -> OrderStatusReady (merchant complete)
//	    -> OrderStatusDelivered (dispatch, terminal)
//	-> OrderStatusCancelled from any non-terminal state (terminal)
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

func (self OrderStatus) IsTerminal() bool {
	switch self {
	case OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

func (self OrderStatus) IsFulfilled() bool {
	switch self {
	case OrderStatusReady, OrderStatusDelivered:
		return true
	default:
		return false
	}
}

type Actor string

const (
	ActorMerchant Actor = "merchant"
	ActorDispatch Actor = "dispatch"
	ActorSystem   Actor = "system"
)

type orderTransition struct {
	from  OrderStatus
	to    OrderStatus
	actor Actor
}

// the authoritative transition table. the merchant originates only
// accept and complete; delivery and cancellation come from outside.
var orderTransitions = map[orderTransition]bool{
	{OrderStatusPending, OrderStatusPreparing, ActorMerchant}: true,
	{OrderStatusPreparing, OrderStatusReady, ActorMerchant}:   true,
	{OrderStatusReady, OrderStatusDelivered, ActorDispatch}:   true,
	{OrderStatusPending, OrderStatusCancelled, ActorSystem}:   true,
	{OrderStatusPreparing, OrderStatusCancelled, ActorSystem}: true,
	{OrderStatusReady, OrderStatusCancelled, ActorSystem}:     true,
}

func ValidOrderTransitionsFrom(status OrderStatus) []OrderStatus {
	nexts := []OrderStatus{}
	seen := map[OrderStatus]bool{}
	for transition := range orderTransitions {
		if transition.from == status && !seen[transition.to] {
			nexts = append(nexts, transition.to)
			seen[transition.to] = true
		}
	}
	return nexts
}

func CanTransitionOrder(from OrderStatus, to OrderStatus, actor Actor) error {
	if orderTransitions[orderTransition{from, to, actor}] {
		return nil
	}
	nexts := ValidOrderTransitionsFrom(from)
	if len(nexts) == 0 {
		return fmt.Errorf("invalid transition %s -> %s for %s: %s is terminal", from, to, actor, from)
	}
	nextStrs := []string{}
	for _, next := range nexts {
		nextStrs = append(nextStrs, string(next))
	}
	return fmt.Errorf(
		"invalid transition %s -> %s for %s: valid next states are %s",
		from, to, actor, strings.Join(nextStrs, ", "),
	)
}

type OrderItem struct {
	ProductId   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
}

type Order struct {
	OrderId       Id              `json:"id"`
	DisplayId     string          `json:"order_id"`
	MerchantId    string          `json:"merchant_id"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone"`
	Status        OrderStatus     `json:"status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	CreatedTime   time.Time       `json:"created_at"`
	UpdatedTime   *time.Time      `json:"updated_at,omitempty"`
	Items         []*OrderItem    `json:"items,omitempty"`
	Revision      uint64          `json:"revision,omitempty"`
}

func (self *Order) RecordId() Id {
	return self.OrderId
}

func (self *Order) RecordRevision() uint64 {
	return self.Revision
}

type NotificationType string

const (
	NotificationTypeMessage NotificationType = "message"
	NotificationTypeOffer   NotificationType = "offer"
	NotificationTypeUpdate  NotificationType = "update"
	NotificationTypeAlert   NotificationType = "alert"
)

type Notification struct {
	NotificationId Id               `json:"id"`
	MerchantId     string           `json:"merchant_id"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	Type           NotificationType `json:"type"`
	IsRead         bool             `json:"is_read"`
	CreatedTime    time.Time        `json:"created_at"`
	AdminId        string           `json:"admin_id,omitempty"`
	Revision       uint64           `json:"revision,omitempty"`
}

func (self *Notification) RecordId() Id {
	return self.NotificationId
}

func (self *Notification) RecordRevision() uint64 {
	return self.Revision
}

// singleton per merchant. the record id is derived from the merchant id
// so that default creation is an idempotent upsert, never check-then-insert.
type MerchantStatus struct {
	StatusId          Id        `json:"id"`
	MerchantId        string    `json:"merchant_id"`
	IsVisible         bool      `json:"is_visible"`
	PrepTimeMinutes   int       `json:"prep_time"`
	AutoPrintReceipt  bool      `json:"auto_print_receipt"`
	OrderChimeEnabled bool      `json:"order_chime_enabled"`
	UpdatedTime       time.Time `json:"updated_at"`
	Revision          uint64    `json:"revision,omitempty"`
}

func (self *MerchantStatus) RecordId() Id {
	return self.StatusId
}

func (self *MerchantStatus) RecordRevision() uint64 {
	return self.Revision
}

const DefaultPrepTimeMinutes = 30

func DefaultMerchantStatus(merchantId string) *MerchantStatus {
	return &MerchantStatus{
		StatusId:          MerchantStatusId(merchantId),
		MerchantId:        merchantId,
		IsVisible:         true,
		PrepTimeMinutes:   DefaultPrepTimeMinutes,
		AutoPrintReceipt:  false,
		OrderChimeEnabled: true,
		UpdatedTime:       time.Now(),
	}
}

// deterministic so that concurrent default creation upserts the same row
func MerchantStatusId(merchantId string) Id {
	sum := sha256.Sum256([]byte("merchant_status:" + merchantId))
	var id Id
	copy(id[:], sum[0:16])
	return id
}

type InventoryStatus string

const (
	InventoryStatusGood    InventoryStatus = "good"
	InventoryStatusWarning InventoryStatus = "warning"
	InventoryStatusDanger  InventoryStatus = "danger"
)

// recomputed on every stock write, never trusted from input
func DeriveInventoryStatus(currentStock int, maximumStock int) InventoryStatus {
	if maximumStock <= 0 {
		return InventoryStatusDanger
	}
	ratio := float64(currentStock) / float64(maximumStock)
	if ratio <= 0.25 {
		return InventoryStatusDanger
	} else if ratio <= 0.50 {
		return InventoryStatusWarning
	}
	return InventoryStatusGood
}

type InventoryItem struct {
	ItemId       Id              `json:"id"`
	MerchantId   string          `json:"merchant_id"`
	ProductId    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	CurrentStock int             `json:"current_stock"`
	MinimumStock int             `json:"minimum_stock"`
	MaximumStock int             `json:"maximum_stock"`
	Status       InventoryStatus `json:"status"`
	UpdatedTime  time.Time       `json:"last_updated"`
	Revision     uint64          `json:"revision,omitempty"`
}

func (self *InventoryItem) RecordId() Id {
	return self.ItemId
}

func (self *InventoryItem) RecordRevision() uint64 {
	return self.Revision
}

type PaymentRequestStatus string

const (
	PaymentRequestStatusPending   PaymentRequestStatus = "pending"
	PaymentRequestStatusApproved  PaymentRequestStatus = "approved"
	PaymentRequestStatusRejected  PaymentRequestStatus = "rejected"
	PaymentRequestStatusCompleted PaymentRequestStatus = "completed"
)

// created by the merchant, mutated only by the admin side
type PaymentRequest struct {
	RequestId      Id                   `json:"id"`
	MerchantId     string               `json:"merchant_id"`
	MerchantName   string               `json:"merchant_name"`
	Amount         decimal.Decimal      `json:"amount"`
	Status         PaymentRequestStatus `json:"status"`
	MpesaPhone     string               `json:"mpesa_phone"`
	RequestTime    time.Time            `json:"request_date"`
	ApprovedTime   *time.Time           `json:"approved_date,omitempty"`
	CompletionTime *time.Time           `json:"completion_date,omitempty"`
	AdminNotes     string               `json:"admin_notes,omitempty"`
	Revision       uint64               `json:"revision,omitempty"`
}

func (self *PaymentRequest) RecordId() Id {
	return self.RequestId
}

func (self *PaymentRequest) RecordRevision() uint64 {
	return self.Revision
}

type Merchant struct {
	RowId            Id        `json:"id"`
	UserId           Id        `json:"user_id"`
	MerchantId       string    `json:"merchant_id"`
	MerchantName     string    `json:"merchant_name"`
	MerchantEmail    string    `json:"merchant_email"`
	MerchantPhone    string    `json:"merchant_phone,omitempty"`
	MerchantLocation string    `json:"merchant_location,omitempty"`
	CreatedTime      time.Time `json:"created_at,omitempty"`
}
