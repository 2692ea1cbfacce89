package yookassa

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Webhook event types consumed by the bot.
const (
	EventPaymentSucceeded      = "payment.succeeded"
	EventPaymentCanceled       = "payment.canceled"
	EventPaymentWaitingCapture = "payment.waiting_for_capture"
	EventRefundSucceeded       = "refund.succeeded"
)

// SignatureHeader carries the HMAC of the raw notification body.
const SignatureHeader = "X-YooKassa-Signature"

type Notification struct {
	Event  string        `json:"event"`
	Object paymentObject `json:"object"`
}

func (n *Notification) ExternalID() string {
	return n.Object.ID
}

// RefundedPaymentID is the gateway id of the payment a refund object
// refers to. Empty for payment events.
func (n *Notification) RefundedPaymentID() string {
	return n.Object.PaymentID
}

// Amount is the money value carried by the notification object.
func (n *Notification) Amount() decimal.Decimal {
	return n.Object.Amount.Decimal()
}

// DedupKey identifies one logical delivery: same event for the same
// payment object, regardless of how many times the gateway retries it.
func (n *Notification) DedupKey() string {
	return n.Event + ":" + n.Object.ID
}

func ParseNotification(body []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	if n.Event == "" || n.Object.ID == "" {
		return nil, fmt.Errorf("notification missing event or object id")
	}
	return &n, nil
}

// VerifySignature checks the HMAC-SHA256 of the raw body against the
// shared gateway secret.
func VerifySignature(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the signature the gateway is expected to send; used by
// tests and local tooling.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
