package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowguard/internal/ids"
)

const stkSuccess = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 3000.00},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254708374149}
        ]
      }
    }
  }
}`

const stkCancelled = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 1032,
      "ResultDesc": "Request cancelled by user"
    }
  }
}`

func TestParseCallback_Success(t *testing.T) {
	cb, err := ParseCallback([]byte(stkSuccess))
	require.NoError(t, err)

	assert.Equal(t, "ws_CO_191220191020363925", cb.CheckoutReference)
	assert.True(t, cb.Succeeded())
	assert.Equal(t, int64(3000), cb.Amount)
	assert.Equal(t, "NLJ7RT61SV", cb.Receipt)
	assert.Equal(t, "254708374149", cb.Phone)
}

func TestParseCallback_Failure(t *testing.T) {
	cb, err := ParseCallback([]byte(stkCancelled))
	require.NoError(t, err)

	assert.False(t, cb.Succeeded())
	assert.Equal(t, 1032, cb.ResultCode)
	assert.Empty(t, cb.Receipt)
}

func TestParseCallback_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"no checkout id", `{"Body":{"stkCallback":{"ResultCode":0}}}`},
		{"success without receipt", `{"Body":{"stkCallback":{"CheckoutRequestID":"x","ResultCode":0}}}`},
		{"fractional amount", `{"Body":{"stkCallback":{"CheckoutRequestID":"x","ResultCode":0,"CallbackMetadata":{"Item":[{"Name":"Amount","Value":2999.6},{"Name":"MpesaReceiptNumber","Value":"R1"}]}}}}`},
		{"amount as text", `{"Body":{"stkCallback":{"CheckoutRequestID":"x","ResultCode":0,"CallbackMetadata":{"Item":[{"Name":"Amount","Value":"2999"},{"Name":"MpesaReceiptNumber","Value":"R1"}]}}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCallback([]byte(tt.body))
			assert.ErrorIs(t, err, ErrMalformedCallback)
		})
	}
}

func TestParseCallback_WholeAmountWithDecimalPoint(t *testing.T) {
	body := `{"Body":{"stkCallback":{"CheckoutRequestID":"x","ResultCode":0,"CallbackMetadata":{"Item":[{"Name":"Amount","Value":2999.00},{"Name":"MpesaReceiptNumber","Value":"R1"}]}}}}`
	cb, err := ParseCallback([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, int64(2999), cb.Amount)
}

func TestEncodeCallback_ParsesBack(t *testing.T) {
	in := Callback{CheckoutReference: "ws_CO_1", ResultCode: 0, ResultDesc: "ok", Amount: 2500, Receipt: "RCP1", Phone: "254700000000"}
	body, err := EncodeCallback(in)
	require.NoError(t, err)

	out, err := ParseCallback(body)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSignature(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(stkSuccess)
	sig := Sign(secret, body)

	assert.NoError(t, Verify(secret, body, sig))
	assert.ErrorIs(t, Verify(secret, append(body, ' '), sig), ErrBadSignature)
	assert.ErrorIs(t, Verify([]byte("other"), body, sig), ErrBadSignature)
	assert.ErrorIs(t, Verify(secret, body, "zz"), ErrBadSignature)
	assert.ErrorIs(t, Verify(nil, body, sig), ErrBadSignature)
}

func TestSandbox_Initiate(t *testing.T) {
	sb := NewSandbox(ids.NewSequence("ref"))

	resp, err := sb.Initiate(t.Context(), InitiateRequest{SessionID: "s1", Amount: 3000})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_ref-1", resp.CheckoutReference)
	assert.Len(t, sb.Initiations(), 1)
}

func TestSandbox_TimeoutOnLatency(t *testing.T) {
	sb := NewSandbox(ids.NewSequence("ref"))
	sb.SetLatency(time.Second)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err := sb.Refund(ctx, RefundRequest{SessionID: "s1", Amount: 100})

	assert.True(t, IsTimeout(err))
	assert.Empty(t, sb.Refunds())
}

func TestSandbox_ConfiguredError(t *testing.T) {
	sb := NewSandbox(nil)
	sb.SetRefundErr(ErrRejected)

	_, err := sb.Refund(t.Context(), RefundRequest{SessionID: "s1"})
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, IsTimeout(err))
}
