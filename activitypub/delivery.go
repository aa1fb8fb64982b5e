package activitypub

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deemkeen/rabble/util"
)

const maxResponseBody = 64 << 10

// KeyLookup returns the signing key of a local actor. For a foreign actor
// it returns ErrForeignActor and the activity is forwarded unsigned.
type KeyLookup func(actorURI string) (*rsa.PrivateKey, error)

var ErrForeignActor = errors.New("actor is not local")

// DeliveryResult is what the remote inbox answered.
type DeliveryResult struct {
	StatusCode int
	Body       []byte
}

// Deliverer POSTs one activity to one inbox. It never retries; callers
// decide what a failure means.
type Deliverer struct {
	client  HTTPClient
	keys    KeyLookup
	timeout time.Duration
}

// NewDeliverer builds a Deliverer. keys may be nil, in which case requests
// go out unsigned.
func NewDeliverer(client HTTPClient, keys KeyLookup, timeout time.Duration) *Deliverer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Deliverer{client: client, keys: keys, timeout: timeout}
}

// Deliver sends activity to inboxURL. Network errors, non-2xx statuses and
// unreadable responses are all returned as errors.
func (d *Deliverer) Deliver(ctx context.Context, activity Activity, inboxURL string) (*DeliveryResult, error) {
	start := time.Now()
	res, err := d.deliver(ctx, activity, inboxURL)
	DeliveryDuration.WithLabelValues(activity.Type).Observe(time.Since(start).Seconds())
	if err != nil {
		DeliveriesTotal.WithLabelValues(activity.Type, "failed").Inc()
		return res, err
	}
	DeliveriesTotal.WithLabelValues(activity.Type, "delivered").Inc()
	return res, nil
}

func (d *Deliverer) deliver(ctx context.Context, activity Activity, inboxURL string) (*DeliveryResult, error) {
	body, err := json.Marshal(activity)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", util.EnsureScheme(inboxURL), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ld+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.UserAgent())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	if d.keys != nil {
		privateKey, err := d.keys(activity.Actor)
		switch {
		case errors.Is(err, ErrForeignActor):
		case err != nil:
			return nil, fmt.Errorf("failed to get signing key for %s: %w", activity.Actor, err)
		default:
			if err := SignRequest(req, privateKey, KeyID(activity.Actor), body); err != nil {
				return nil, fmt.Errorf("failed to sign request: %w", err)
			}
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	result := &DeliveryResult{StatusCode: resp.StatusCode, Body: respBody}
	if err != nil {
		return result, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}
	return result, nil
}
