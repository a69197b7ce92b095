// Package webhook delivers signed event notifications to subscribed URLs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"norruva.org/internal/domain"
	"norruva.org/internal/obs"
)

// Request headers set on every delivery.
const (
	HeaderSignature = "X-Norruva-Signature"
	HeaderTimestamp = "X-Norruva-Timestamp"
	HeaderEvent     = "X-Norruva-Event"
	HeaderDelivery  = "X-Norruva-Delivery"
)

var ErrDeliveryFailed = errors.New("webhook delivery failed")

// Envelope is the JSON body posted to subscribers.
type Envelope struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	CreatedAt time.Time      `json:"createdAt"`
	Data      map[string]any `json:"data"`
}

// Deliverer sends one event to one webhook.
type Deliverer interface {
	Deliver(ctx context.Context, w *domain.Webhook, event string, payload map[string]any) error
}

// Dispatcher posts envelopes over HTTP.
type Dispatcher struct {
	client *http.Client
	now    func() time.Time
}

// NewDispatcher uses client, or a client with a 10s timeout when nil.
func NewDispatcher(client *http.Client) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Dispatcher{client: client, now: func() time.Time { return time.Now().UTC() }}
}

func (d *Dispatcher) Deliver(ctx context.Context, w *domain.Webhook, event string, payload map[string]any) error {
	env := Envelope{ID: uuid.NewString(), Event: event, CreatedAt: d.now(), Data: payload}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	ts := strconv.FormatInt(env.CreatedAt.Unix(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		obs.WebhookDeliveries.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderDelivery, env.ID)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, Sign(w.Secret, ts, body))

	resp, err := d.client.Do(req)
	if err != nil {
		obs.WebhookDeliveries.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		obs.WebhookDeliveries.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %s responded %d", ErrDeliveryFailed, w.URL, resp.StatusCode)
	}
	obs.WebhookDeliveries.WithLabelValues("delivered").Inc()
	return nil
}

// Sign returns "sha256=<hex>" of HMAC-SHA256(secret, timestamp + "." + body).
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}
