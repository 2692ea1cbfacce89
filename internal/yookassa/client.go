package yookassa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

// Gateway payment statuses.
const (
	StatusPending        = "pending"
	StatusWaitingCapture = "waiting_for_capture"
	StatusSucceeded      = "succeeded"
	StatusCanceled       = "canceled"
)

// Metadata keys attached to every payment we create, used to map webhook
// notifications back to our rows.
const (
	MetaUserID       = "user_id"
	MetaBotPaymentID = "bot_payment_id"
)

type Client struct {
	shopID     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(shopID, secretKey, baseURL string, log zerolog.Logger) *Client {
	return &Client{
		shopID:    shopID,
		secretKey: secretKey,
		baseURL:   baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("component", "yookassa").Logger(),
	}
}

type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

func (a Amount) Decimal() decimal.Decimal {
	d, err := decimal.NewFromString(a.Value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

type confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type paymentRequest struct {
	Amount       Amount            `json:"amount"`
	Confirmation confirmation      `json:"confirmation"`
	Capture      bool              `json:"capture"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata"`
}

type paymentObject struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Amount       Amount            `json:"amount"`
	Confirmation *confirmation     `json:"confirmation,omitempty"`
	Metadata     map[string]string `json:"metadata"`
	// PaymentID is set on refund objects and points back to the refunded
	// payment.
	PaymentID string `json:"payment_id,omitempty"`
}

type CreatedPayment struct {
	ExternalID      string
	Status          string
	ConfirmationURL string
}

type PaymentInfo struct {
	ExternalID string
	Status     string
	Amount     decimal.Decimal
	Currency   string
	Metadata   map[string]string
}

// CreatePayment registers a redirect payment at the gateway. The bot
// payment id doubles as the Idempotence-Key, so a retried create never
// produces a second gateway payment.
func (c *Client) CreatePayment(ctx context.Context, amount decimal.Decimal, currency, description string, userID int64, botPaymentID, returnURL string) (*CreatedPayment, error) {
	req := paymentRequest{
		Amount: Amount{
			Value:    amount.StringFixed(2),
			Currency: currency,
		},
		Confirmation: confirmation{
			Type:      "redirect",
			ReturnURL: returnURL,
		},
		Capture:     true,
		Description: description,
		Metadata: map[string]string{
			MetaUserID:       strconv.FormatInt(userID, 10),
			MetaBotPaymentID: botPaymentID,
		},
	}

	var obj paymentObject
	if err := c.doJSON(ctx, http.MethodPost, "/payments", botPaymentID, req, &obj); err != nil {
		return nil, err
	}

	created := &CreatedPayment{
		ExternalID: obj.ID,
		Status:     obj.Status,
	}
	if obj.Confirmation != nil {
		created.ConfirmationURL = obj.Confirmation.ConfirmationURL
	}
	c.log.Info().Int64("user_id", userID).Str("payment_id", obj.ID).Msg("payment created")
	return created, nil
}

// GetPayment is the status-poll fallback for payments whose webhook
// never arrived.
func (c *Client) GetPayment(ctx context.Context, externalID string) (*PaymentInfo, error) {
	var obj paymentObject
	if err := c.doJSON(ctx, http.MethodGet, "/payments/"+externalID, "", nil, &obj); err != nil {
		return nil, err
	}
	return &PaymentInfo{
		ExternalID: obj.ID,
		Status:     obj.Status,
		Amount:     obj.Amount.Decimal(),
		Currency:   obj.Amount.Currency,
		Metadata:   obj.Metadata,
	}, nil
}

func (c *Client) CancelPayment(ctx context.Context, externalID string) error {
	var obj paymentObject
	return c.doJSON(ctx, http.MethodPost, "/payments/"+externalID+"/cancel", uuid.NewString(), struct{}{}, &obj)
}

// doJSON performs one gateway call with fibonacci backoff on network
// errors, 429 and 5xx. 4xx responses are permanent.
func (c *Client) doJSON(ctx context.Context, method, path, idempotenceKey string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.shopID, c.secretKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idempotenceKey != "" {
			req.Header.Set("Idempotence-Key", idempotenceKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			if out == nil {
				return nil
			}
			return json.Unmarshal(data, out)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			c.log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("gateway error, will retry")
			return retry.RetryableError(fmt.Errorf("yookassa: %s %s: status %d", method, path, resp.StatusCode))
		default:
			return fmt.Errorf("yookassa: %s %s: status %d: %s", method, path, resp.StatusCode, data)
		}
	})
}
