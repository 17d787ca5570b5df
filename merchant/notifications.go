package merchant

import (
	"context"
	"time"
)

const TableNotifications = "notifications"

const DefaultNotificationLimit = 50

// latest notifications for one merchant, newest first
func FetchNotifications(store RemoteStore, merchantId string, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = DefaultNotificationLimit
	}
	result, err := store.FetchAllSync(&FetchAllArgs{
		Table: TableNotifications,
		Filter: Filter{
			"merchant_id": merchantId,
		},
		OrderBy: "created_at",
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	return DecodeRecords[*Notification](result)
}

// snapshot order for the notifications store, newest first
func CompareNotifications(a *Notification, b *Notification) int {
	if a.CreatedTime.After(b.CreatedTime) {
		return -1
	} else if b.CreatedTime.After(a.CreatedTime) {
		return 1
	}
	return 0
}

// remote write for the read flag
func NotificationReadWrite(store RemoteStore) WriteFunction[*Notification] {
	return func(ctx context.Context, notification *Notification) error {
		result, err := store.UpdateSync(&UpdateArgs{
			Table: TableNotifications,
			Filter: Filter{
				"id": notification.NotificationId.String(),
			},
			Patch: map[string]any{
				"is_read": notification.IsRead,
			},
		})
		if err != nil {
			return err
		}
		return writeResultError(result)
	}
}

// is_read is monotonic false -> true
func MarkReadTransform(notification *Notification) (*Notification, error) {
	next := *notification
	next.IsRead = true
	return &next, nil
}

type SendNotificationArgs struct {
	MerchantId string
	Title      string
	Message    string
	Type       NotificationType
	AdminId    string
}

// admin utility to send a notification to one merchant. typically
// called from the admin dashboard, kept here for parity with the
// merchant-side schema
func SendMerchantNotification(store RemoteStore, args *SendNotificationArgs) error {
	notification := &Notification{
		NotificationId: NewId(),
		MerchantId:     args.MerchantId,
		Title:          args.Title,
		Message:        args.Message,
		Type:           args.Type,
		IsRead:         false,
		CreatedTime:    time.Now(),
		AdminId:        args.AdminId,
	}
	result, err := store.UpsertSync(&UpsertArgs{
		Table:       TableNotifications,
		Record:      notification,
		ConflictKey: "id",
	})
	if err != nil {
		return err
	}
	return writeResultError(result)
}

// admin utility to send the same notification to many merchants
func BroadcastNotification(store RemoteStore, merchantIds []string, args *SendNotificationArgs) (int, error) {
	notified := 0
	for _, merchantId := range merchantIds {
		sendArgs := *args
		sendArgs.MerchantId = merchantId
		if err := SendMerchantNotification(store, &sendArgs); err != nil {
			return notified, err
		}
		notified += 1
	}
	return notified, nil
}
