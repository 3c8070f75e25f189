package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	CodePaymentSuccess  = "PAYMENT_SUCCESS"
	CodePaymentError    = "PAYMENT_ERROR"
	CodePaymentPending  = "PAYMENT_PENDING"
	CodePaymentDeclined = "PAYMENT_DECLINED"
	CodeTimedOut        = "TIMED_OUT"
)

type PayRequest struct {
	MerchantTransactionID string
	MerchantUserID        string
	AmountMinorUnits      int64
	RedirectURL           string
	CallbackURL           string
	MobileNumber          string
}

type paymentInstrument struct {
	Type string `json:"type"`
}

type payPayload struct {
	MerchantID            string            `json:"merchantId"`
	MerchantTransactionID string            `json:"merchantTransactionId"`
	MerchantUserID        string            `json:"merchantUserId"`
	Amount                int64             `json:"amount"`
	RedirectURL           string            `json:"redirectUrl"`
	RedirectMode          string            `json:"redirectMode"`
	CallbackURL           string            `json:"callbackUrl"`
	MobileNumber          string            `json:"mobileNumber,omitempty"`
	PaymentInstrument     paymentInstrument `json:"paymentInstrument"`
}

type payResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		MerchantTransactionID string `json:"merchantTransactionId"`
		InstrumentResponse    struct {
			Type         string `json:"type"`
			RedirectInfo struct {
				URL    string `json:"url"`
				Method string `json:"method"`
			} `json:"redirectInfo"`
		} `json:"instrumentResponse"`
	} `json:"data"`
}

// TransactionData is the data block shared by callbacks and status responses.
type TransactionData struct {
	MerchantID            string `json:"merchantId"`
	MerchantTransactionID string `json:"merchantTransactionId"`
	TransactionID         string `json:"transactionId"`
	Amount                int64  `json:"amount"`
	State                 string `json:"state"`
	ResponseCode          string `json:"responseCode"`
}

// StatusResult is the decoded body of a callback or a status query.
type StatusResult struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    TransactionData `json:"data"`
}

func (r *StatusResult) Paid() bool {
	return r.Code == CodePaymentSuccess
}

// Pending reports whether the gateway has not reached a final outcome yet.
func (r *StatusResult) Pending() bool {
	return r.Code == CodePaymentPending || r.Data.State == "PENDING"
}

// Failed reports a definitive payment failure. Any other code, such as
// INTERNAL_SERVER_ERROR or TRANSACTION_NOT_FOUND, says nothing about the
// payment itself.
func (r *StatusResult) Failed() bool {
	if r.Pending() {
		return false
	}
	switch r.Code {
	case CodePaymentError, CodePaymentDeclined, CodeTimedOut:
		return true
	}
	return false
}

// Conclusive reports whether the result settles the payment either way.
func (r *StatusResult) Conclusive() bool {
	return r.Paid() || r.Failed()
}

// DecodeCallback decodes the base64 "response" field of a server-to-server callback.
func DecodeCallback(response string) (*StatusResult, json.RawMessage, error) {
	raw, err := base64.StdEncoding.DecodeString(response)
	if err != nil {
		return nil, nil, fmt.Errorf("decode callback payload: %w", err)
	}

	var res StatusResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, nil, fmt.Errorf("unmarshal callback payload: %w", err)
	}
	if res.Data.MerchantTransactionID == "" {
		return nil, nil, fmt.Errorf("callback payload has no merchantTransactionId")
	}
	return &res, raw, nil
}
