package merchant

import (
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/shopspring/decimal"
)

func TestValidateMpesaPhone(t *testing.T) {
	// Tanzanian mobile numbers, international and national form
	assert.Equal(t, ValidateMpesaPhone("+255754123456"), nil)
	assert.Equal(t, ValidateMpesaPhone("0754123456"), nil)

	assert.NotEqual(t, ValidateMpesaPhone("12345"), nil)
	assert.NotEqual(t, ValidateMpesaPhone("not a phone"), nil)
	assert.NotEqual(t, ValidateMpesaPhone(""), nil)
}

func TestSubmitPaymentRequest(t *testing.T) {
	remote := newTestRemoteStore()

	request, err := SubmitPaymentRequest(remote, "m1", "Mama Lishe", decimal.NewFromInt(50000), "+255754123456")
	assert.Equal(t, err, nil)
	assert.Equal(t, request.MerchantId, "m1")
	assert.Equal(t, request.MerchantName, "Mama Lishe")
	assert.Equal(t, request.Status, PaymentRequestStatusPending)
	assert.Equal(t, request.RequestId.IsZero(), false)

	assert.Equal(t, remote.upsertCount(TablePaymentRequests), 1)
	// the admin trail lands asynchronously
	waitForUpserts(t, remote, TablePaymentLogs, 1)
}

func TestSubmitPaymentRequestValidation(t *testing.T) {
	remote := newTestRemoteStore()

	_, err := SubmitPaymentRequest(remote, "m1", "Mama Lishe", decimal.Zero, "+255754123456")
	assert.NotEqual(t, err, nil)

	_, err = SubmitPaymentRequest(remote, "m1", "Mama Lishe", decimal.NewFromInt(-100), "+255754123456")
	assert.NotEqual(t, err, nil)

	_, err = SubmitPaymentRequest(remote, "m1", "Mama Lishe", decimal.NewFromInt(50000), "12345")
	assert.NotEqual(t, err, nil)

	// rejected locally, no remote write happens
	assert.Equal(t, len(remote.upserts), 0)
}
