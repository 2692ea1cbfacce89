package yookassa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePayment(t *testing.T) {
	var captured struct {
		auth    string
		idemKey string
		request paymentRequest
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/payments", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		captured.auth = user + ":" + pass
		captured.idemKey = r.Header.Get("Idempotence-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured.request))

		_ = json.NewEncoder(w).Encode(paymentObject{
			ID:     "2d8e8a0a-0000-5000-8000-000000000001",
			Status: StatusPending,
			Amount: Amount{Value: "500.00", Currency: "RUB"},
			Confirmation: &confirmation{
				Type:            "redirect",
				ConfirmationURL: "https://yoomoney.ru/checkout/payments/v2?orderId=abc",
			},
		})
	}))
	defer srv.Close()

	c := NewClient("shop-1", "secret-1", srv.URL, zerolog.Nop())
	created, err := c.CreatePayment(context.Background(), decimal.NewFromInt(500), "RUB", "Подписка", 42, "bot-pay-1", "https://t.me/mybot")
	require.NoError(t, err)

	assert.Equal(t, "2d8e8a0a-0000-5000-8000-000000000001", created.ExternalID)
	assert.Equal(t, StatusPending, created.Status)
	assert.Equal(t, "https://yoomoney.ru/checkout/payments/v2?orderId=abc", created.ConfirmationURL)

	assert.Equal(t, "shop-1:secret-1", captured.auth)
	assert.Equal(t, "bot-pay-1", captured.idemKey)
	assert.Equal(t, "500.00", captured.request.Amount.Value)
	assert.Equal(t, "RUB", captured.request.Amount.Currency)
	assert.True(t, captured.request.Capture)
	assert.Equal(t, "redirect", captured.request.Confirmation.Type)
	assert.Equal(t, "https://t.me/mybot", captured.request.Confirmation.ReturnURL)
	assert.Equal(t, "42", captured.request.Metadata[MetaUserID])
	assert.Equal(t, "bot-pay-1", captured.request.Metadata[MetaBotPaymentID])
}

func TestGetPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/payments/ext-1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(paymentObject{
			ID:       "ext-1",
			Status:   StatusSucceeded,
			Amount:   Amount{Value: "500.00", Currency: "RUB"},
			Metadata: map[string]string{MetaUserID: "42"},
		})
	}))
	defer srv.Close()

	c := NewClient("shop-1", "secret-1", srv.URL, zerolog.Nop())
	info, err := c.GetPayment(context.Background(), "ext-1")
	require.NoError(t, err)

	assert.Equal(t, "ext-1", info.ExternalID)
	assert.Equal(t, StatusSucceeded, info.Status)
	assert.True(t, decimal.NewFromInt(500).Equal(info.Amount))
	assert.Equal(t, "RUB", info.Currency)
	assert.Equal(t, "42", info.Metadata[MetaUserID])
}

func TestRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(paymentObject{ID: "ext-1", Status: StatusPending})
	}))
	defer srv.Close()

	c := NewClient("shop-1", "secret-1", srv.URL, zerolog.Nop())
	info, err := c.GetPayment(context.Background(), "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "ext-1", info.ExternalID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","code":"invalid_credentials"}`))
	}))
	defer srv.Close()

	c := NewClient("shop-1", "wrong", srv.URL, zerolog.Nop())
	_, err := c.GetPayment(context.Background(), "ext-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestCancelPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/payments/ext-1/cancel", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("Idempotence-Key"))
		_ = json.NewEncoder(w).Encode(paymentObject{ID: "ext-1", Status: StatusCanceled})
	}))
	defer srv.Close()

	c := NewClient("shop-1", "secret-1", srv.URL, zerolog.Nop())
	require.NoError(t, c.CancelPayment(context.Background(), "ext-1"))
}
