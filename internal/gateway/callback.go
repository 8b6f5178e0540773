package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ResultSuccess is the provider result code for a completed payment.
const ResultSuccess = 0

// Callback is a parsed payment result.
type Callback struct {
	CheckoutReference string
	ResultCode        int
	ResultDesc        string
	Amount            int64
	Phone             string
	Receipt           string
}

// Succeeded reports whether the client paid.
func (c Callback) Succeeded() bool { return c.ResultCode == ResultSuccess }

// stkEnvelope is the provider's STK push result body.
type stkEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []stkItem `json:"Item"`
			} `json:"CallbackMetadata,omitempty"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type stkItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// ErrMalformedCallback is returned for bodies that are not STK results.
var ErrMalformedCallback = errors.New("malformed payment callback")

// ParseCallback decodes an STK result body.
func ParseCallback(body []byte) (Callback, error) {
	var env stkEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	stk := env.Body.StkCallback
	if stk.CheckoutRequestID == "" {
		return Callback{}, fmt.Errorf("%w: missing CheckoutRequestID", ErrMalformedCallback)
	}
	cb := Callback{
		CheckoutReference: stk.CheckoutRequestID,
		ResultCode:        stk.ResultCode,
		ResultDesc:        stk.ResultDesc,
	}
	if stk.CallbackMetadata == nil {
		return cb, nil
	}
	for _, item := range stk.CallbackMetadata.Item {
		if len(item.Value) == 0 {
			continue
		}
		var err error
		switch item.Name {
		case "Amount":
			cb.Amount, err = parseAmount(item.Value)
		case "MpesaReceiptNumber":
			err = json.Unmarshal(item.Value, &cb.Receipt)
		case "PhoneNumber":
			var phone json.Number
			if err = json.Unmarshal(item.Value, &phone); err == nil {
				cb.Phone = phone.String()
			}
		}
		if err != nil {
			return Callback{}, fmt.Errorf("%w: item %s: %v", ErrMalformedCallback, item.Name, err)
		}
	}
	if cb.Succeeded() && cb.Receipt == "" {
		return Callback{}, fmt.Errorf("%w: successful result without receipt", ErrMalformedCallback)
	}
	return cb, nil
}

// parseAmount reads a whole settlement amount. The provider may write it
// with a decimal point ("2999.00"); a fractional part is an error.
func parseAmount(raw json.RawMessage) (int64, error) {
	var amount float64
	if err := json.Unmarshal(raw, &amount); err != nil {
		return 0, err
	}
	if amount != math.Trunc(amount) || math.Abs(amount) > 1<<53 {
		return 0, fmt.Errorf("amount %s is not a whole number", raw)
	}
	return int64(amount), nil
}

// EncodeCallback renders cb as an STK result body. Amount is in major
// units as the provider sends it.
func EncodeCallback(cb Callback) ([]byte, error) {
	var env stkEnvelope
	stk := &env.Body.StkCallback
	stk.MerchantRequestID = "mr-" + cb.CheckoutReference
	stk.CheckoutRequestID = cb.CheckoutReference
	stk.ResultCode = cb.ResultCode
	stk.ResultDesc = cb.ResultDesc
	if cb.Succeeded() {
		items := []stkItem{
			{Name: "Amount", Value: json.RawMessage(fmt.Sprintf("%d", cb.Amount))},
			{Name: "MpesaReceiptNumber", Value: mustJSON(cb.Receipt)},
		}
		if cb.Phone != "" {
			items = append(items, stkItem{Name: "PhoneNumber", Value: json.RawMessage(cb.Phone)})
		}
		stk.CallbackMetadata = &struct {
			Item []stkItem `json:"Item"`
		}{Item: items}
	}
	return json.Marshal(env)
}

func mustJSON(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
