package merchant

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestFetchNotificationsLimit(t *testing.T) {
	remote := newTestRemoteStore()
	remote.setTable(TableNotifications)

	_, err := FetchNotifications(remote, "m1", 0)
	assert.Equal(t, err, nil)

	// a non-positive limit falls back to the default
	assert.Equal(t, remote.fetches[0].Limit, DefaultNotificationLimit)
	assert.Equal(t, remote.fetches[0].Filter["merchant_id"], "m1")

	_, err = FetchNotifications(remote, "m1", 10)
	assert.Equal(t, err, nil)
	assert.Equal(t, remote.fetches[1].Limit, 10)
}

func TestMarkReadTransform(t *testing.T) {
	notification := &Notification{
		NotificationId: NewId(),
		IsRead:         false,
		CreatedTime:    time.Now(),
	}

	read, err := MarkReadTransform(notification)
	assert.Equal(t, err, nil)
	assert.Equal(t, read.IsRead, true)
	// the cached record is never mutated in place
	assert.Equal(t, notification.IsRead, false)

	// is_read is monotonic, re-marking is harmless
	again, err := MarkReadTransform(read)
	assert.Equal(t, err, nil)
	assert.Equal(t, again.IsRead, true)
}

func TestSendMerchantNotification(t *testing.T) {
	remote := newTestRemoteStore()

	err := SendMerchantNotification(remote, &SendNotificationArgs{
		MerchantId: "m1",
		Title:      "New offer",
		Message:    "Lower fees this week",
		Type:       NotificationTypeOffer,
		AdminId:    "admin1",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, len(remote.upserts), 1)
	assert.Equal(t, remote.upserts[0].Table, TableNotifications)
}

func TestBroadcastNotification(t *testing.T) {
	remote := newTestRemoteStore()

	notified, err := BroadcastNotification(remote, []string{"m1", "m2", "m3"}, &SendNotificationArgs{
		Title:   "Maintenance",
		Message: "Short downtime tonight",
		Type:    NotificationTypeUpdate,
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, notified, 3)
	assert.Equal(t, len(remote.upserts), 3)
}
