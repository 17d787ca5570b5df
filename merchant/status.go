package merchant

import (
	"context"
	"time"

	"github.com/golang/glog"
)

const TableMerchantStatus = "merchant_status"
const TableMerchantActivityLog = "merchant_activity_log"

// singleton status row for one merchant. absence is not an error here;
// the caller resolves it with `EnsureMerchantStatus`
func FetchMerchantStatus(store RemoteStore, merchantId string) (*MerchantStatus, error) {
	result, err := store.FetchAllSync(&FetchAllArgs{
		Table: TableMerchantStatus,
		Filter: Filter{
			"merchant_id": merchantId,
		},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	records, err := DecodeRecords[*MerchantStatus](result)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// create the default status row exactly once. the write is an
// idempotent upsert keyed by merchant id, so concurrent callers cannot
// both insert
func EnsureMerchantStatus(store RemoteStore, merchantId string) (*MerchantStatus, error) {
	status, err := FetchMerchantStatus(store, merchantId)
	if err != nil {
		return nil, err
	}
	if status != nil {
		return status, nil
	}

	status = DefaultMerchantStatus(merchantId)
	result, err := store.UpsertSync(&UpsertArgs{
		Table:       TableMerchantStatus,
		Record:      status,
		ConflictKey: "merchant_id",
	})
	if err != nil {
		return nil, err
	}
	if err := writeResultError(result); err != nil {
		return nil, err
	}
	return status, nil
}

// remote write for a status mutation. a full-record upsert keyed by
// merchant id keeps the singleton invariant
func MerchantStatusWrite(store RemoteStore) WriteFunction[*MerchantStatus] {
	return func(ctx context.Context, status *MerchantStatus) error {
		result, err := store.UpsertSync(&UpsertArgs{
			Table:       TableMerchantStatus,
			Record:      status,
			ConflictKey: "merchant_id",
		})
		if err != nil {
			return err
		}
		return writeResultError(result)
	}
}

func SetVisibilityTransform(isVisible bool) TransformFunction[*MerchantStatus] {
	return func(status *MerchantStatus) (*MerchantStatus, error) {
		next := *status
		next.IsVisible = isVisible
		next.UpdatedTime = time.Now()
		return &next, nil
	}
}

func SetPrepTimeTransform(prepTimeMinutes int) TransformFunction[*MerchantStatus] {
	return func(status *MerchantStatus) (*MerchantStatus, error) {
		if prepTimeMinutes <= 0 {
			return nil, &ValidationError{
				Field:   "prep_time",
				Message: "preparation time must be a positive number of minutes",
			}
		}
		next := *status
		next.PrepTimeMinutes = prepTimeMinutes
		next.UpdatedTime = time.Now()
		return &next, nil
	}
}

func SetAutoPrintTransform(enabled bool) TransformFunction[*MerchantStatus] {
	return func(status *MerchantStatus) (*MerchantStatus, error) {
		next := *status
		next.AutoPrintReceipt = enabled
		next.UpdatedTime = time.Now()
		return &next, nil
	}
}

func SetChimeTransform(enabled bool) TransformFunction[*MerchantStatus] {
	return func(status *MerchantStatus) (*MerchantStatus, error) {
		next := *status
		next.OrderChimeEnabled = enabled
		next.UpdatedTime = time.Now()
		return &next, nil
	}
}

// best-effort admin visibility trail. failure is logged, never
// propagated to the caller's result
func trackVisibilityChange(store RemoteStore, merchantId string, isVisible bool) {
	action := "STORE_OFFLINE"
	details := "Store went offline"
	if isVisible {
		action = "STORE_ONLINE"
		details = "Store went online"
	}
	result, err := store.UpsertSync(&UpsertArgs{
		Table: TableMerchantActivityLog,
		Record: map[string]any{
			"merchant_id": merchantId,
			"action":      action,
			"details":     details,
			"timestamp":   time.Now(),
		},
	})
	if err == nil {
		err = writeResultError(result)
	}
	if err != nil {
		glog.V(1).Infof("[track]activity log error = %s\n", err)
	}
}
