package merchant

import (
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

const TablePaymentRequests = "payment_requests"
const TablePaymentLogs = "payment_logs"

// payout phone numbers are M-Pesa numbers in this region
const PhoneRegion = "TZ"

func ValidateMpesaPhone(phone string) error {
	parsed, err := libphonenumber.Parse(phone, PhoneRegion)
	if err != nil {
		return &ValidationError{
			Field:   "mpesa_phone",
			Message: err.Error(),
		}
	}
	if !libphonenumber.IsValidNumber(parsed) {
		return &ValidationError{
			Field:   "mpesa_phone",
			Message: "phone number is not valid",
		}
	}
	return nil
}

// submits a payout request. the request is mutated only by the admin
// side after this; the merchant reads status updates
func SubmitPaymentRequest(
	store RemoteStore,
	merchantId string,
	merchantName string,
	amount decimal.Decimal,
	mpesaPhone string,
) (*PaymentRequest, error) {
	if amount.Sign() <= 0 {
		return nil, &ValidationError{
			Field:   "amount",
			Message: "amount must be positive",
		}
	}
	if err := ValidateMpesaPhone(mpesaPhone); err != nil {
		return nil, err
	}

	request := &PaymentRequest{
		RequestId:    NewId(),
		MerchantId:   merchantId,
		MerchantName: merchantName,
		Amount:       amount,
		Status:       PaymentRequestStatusPending,
		MpesaPhone:   mpesaPhone,
		RequestTime:  time.Now(),
	}
	result, err := store.UpsertSync(&UpsertArgs{
		Table:       TablePaymentRequests,
		Record:      request,
		ConflictKey: "id",
	})
	if err != nil {
		return nil, err
	}
	if err := writeResultError(result); err != nil {
		return nil, err
	}

	// admin trail, deliberately fire and forget
	go trackPaymentRequest(store, request)

	return request, nil
}

func FetchPaymentRequests(store RemoteStore, merchantId string) ([]*PaymentRequest, error) {
	result, err := store.FetchAllSync(&FetchAllArgs{
		Table: TablePaymentRequests,
		Filter: Filter{
			"merchant_id": merchantId,
		},
		OrderBy: "request_date",
	})
	if err != nil {
		return nil, err
	}
	return DecodeRecords[*PaymentRequest](result)
}

func trackPaymentRequest(store RemoteStore, request *PaymentRequest) {
	result, err := store.UpsertSync(&UpsertArgs{
		Table: TablePaymentLogs,
		Record: map[string]any{
			"merchant_id": request.MerchantId,
			"action":      "WITHDRAWAL_REQUESTED",
			"amount":      request.Amount,
			"details":     fmt.Sprintf("M-Pesa withdrawal to %s", request.MpesaPhone),
			"timestamp":   time.Now(),
		},
	})
	if err == nil {
		err = writeResultError(result)
	}
	if err != nil {
		glog.V(1).Infof("[track]payment log error = %s\n", err)
	}
}
