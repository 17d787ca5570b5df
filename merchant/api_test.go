package merchant

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

// in-memory remote store used across the package tests
type testRemoteStore struct {
	stateLock sync.Mutex

	// table -> records returned by fetch
	tables map[string][]any

	fetchErr  error
	upsertErr error
	updateErr error
	deleteErr error

	writeResult *WriteResult

	fetches []*FetchAllArgs
	upserts []*UpsertArgs
	updates []*UpdateArgs
	deletes []*DeleteArgs
}

func newTestRemoteStore() *testRemoteStore {
	return &testRemoteStore{
		tables: map[string][]any{},
	}
}

func (self *testRemoteStore) setTable(table string, records ...any) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.tables[table] = records
}

func (self *testRemoteStore) FetchAllSync(fetchAll *FetchAllArgs) (*FetchAllResult, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.fetches = append(self.fetches, fetchAll)
	if self.fetchErr != nil {
		return nil, self.fetchErr
	}

	result := &FetchAllResult{
		Records: []json.RawMessage{},
	}
	for _, record := range self.tables[fetchAll.Table] {
		recordJson, err := json.Marshal(record)
		if err != nil {
			return nil, err
		}
		result.Records = append(result.Records, recordJson)
	}
	return result, nil
}

func (self *testRemoteStore) UpsertSync(upsert *UpsertArgs) (*WriteResult, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.upserts = append(self.upserts, upsert)
	if self.upsertErr != nil {
		return nil, self.upsertErr
	}
	if self.writeResult != nil {
		return self.writeResult, nil
	}
	return &WriteResult{}, nil
}

func (self *testRemoteStore) UpdateSync(update *UpdateArgs) (*WriteResult, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.updates = append(self.updates, update)
	if self.updateErr != nil {
		return nil, self.updateErr
	}
	if self.writeResult != nil {
		return self.writeResult, nil
	}
	return &WriteResult{}, nil
}

func (self *testRemoteStore) DeleteSync(delete_ *DeleteArgs) (*WriteResult, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.deletes = append(self.deletes, delete_)
	if self.deleteErr != nil {
		return nil, self.deleteErr
	}
	if self.writeResult != nil {
		return self.writeResult, nil
	}
	return &WriteResult{}, nil
}

func (self *testRemoteStore) upsertCount(table string) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	count := 0
	for _, upsert := range self.upserts {
		if upsert.Table == table {
			count += 1
		}
	}
	return count
}

// fire and forget tracking writes land asynchronously
func waitForUpserts(t *testing.T, remote *testRemoteStore, table string, count int) {
	endTime := time.Now().Add(5 * time.Second)
	for time.Now().Before(endTime) {
		if count <= remote.upsertCount(table) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d upserts to %s", count, table)
}

func TestFeedUrl(t *testing.T) {
	api := NewMerchantApi("https://api.example.com")
	defer api.Close()

	feedUrl := api.FeedUrl("orders", "m1")
	assert.Equal(t, feedUrl, "wss://api.example.com/store/subscribe?table=orders&merchant_id=m1")

	api2 := NewMerchantApi("http://localhost:8080")
	defer api2.Close()

	feedUrl2 := api2.FeedUrl("notifications", "m2")
	assert.Equal(t, feedUrl2, "ws://localhost:8080/store/subscribe?table=notifications&merchant_id=m2")
}

func TestDecodeRecords(t *testing.T) {
	result := &FetchAllResult{
		Records: []json.RawMessage{
			json.RawMessage(`{"id":"00000000-0000-0000-0000-000000000001","title":"a"}`),
			json.RawMessage(`{"id":"00000000-0000-0000-0000-000000000002","title":"b"}`),
		},
	}

	notifications, err := DecodeRecords[*Notification](result)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(notifications), 2)
	assert.Equal(t, notifications[0].Title, "a")
	assert.Equal(t, notifications[1].Title, "b")
}
