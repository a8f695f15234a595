package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"donation-push-backend/internal/model"
	"donation-push-backend/internal/store"
)

// Sentinel errors for the delivery operation. Per-device failures are not
// errors; they are reported in the Summary.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrNoSubscriptions = errors.New("user has no active subscriptions")
)

// Outcome is the per-device result of a delivery attempt.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeExpired   Outcome = "expired"
	OutcomeFailed    Outcome = "failed"
)

// Result describes the delivery attempt for a single device.
type Result struct {
	SubscriptionID string  `json:"subscriptionId"`
	Endpoint       string  `json:"endpoint"`
	Outcome        Outcome `json:"outcome"`
	Error          string  `json:"error,omitempty"`
}

// Summary aggregates the per-device results of one fan-out.
type Summary struct {
	TotalDevices int      `json:"totalDevices"`
	Successful   int      `json:"successful"`
	Failed       int      `json:"failed"`
	Results      []Result `json:"results"`
}

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of Sender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotificationWithContext(ctx, payload, sub, options)
}

// Dispatcher fans a notification out to every registered device of a user.
type Dispatcher struct {
	store       store.Store
	webpush     *webpush.Options
	sender      Sender
	sendTimeout time.Duration
	maxParallel int
}

// NewDispatcher creates a delivery engine backed by the given store and
// VAPID options.
func NewDispatcher(s store.Store, webpushOptions *webpush.Options, sendTimeout time.Duration, maxParallel int) *Dispatcher {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &Dispatcher{
		store:       s,
		webpush:     webpushOptions,
		sender:      &WebPushSender{}, // Use the real sender by default
		sendTimeout: sendTimeout,
		maxParallel: maxParallel,
	}
}

// SetSender replaces the transport, used by tests.
func (d *Dispatcher) SetSender(sender Sender) {
	d.sender = sender
}

// SendToUser delivers the notification to every device registered for the
// user. Every device is attempted; a device failure never aborts its
// siblings. Devices whose endpoint the push service reports gone are deleted
// from the store as part of the same operation.
func (d *Dispatcher) SendToUser(ctx context.Context, userID string, n Notification) (*Summary, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	user, err := d.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	subs, err := d.store.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNoSubscriptions
	}

	payload, err := n.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	results := make([]Result, len(subs))
	sem := make(chan struct{}, d.maxParallel)
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub model.PushSubscription) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = d.sendOne(ctx, sub, payload)
		}(i, sub)
	}
	wg.Wait()

	summary := &Summary{
		TotalDevices: len(subs),
		Results:      results,
	}
	for _, r := range results {
		if r.Outcome == OutcomeDelivered {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	return summary, nil
}

// sendOne attempts delivery to a single device. It never panics or returns
// an error; any problem is downgraded to a per-device outcome.
func (d *Dispatcher) sendOne(ctx context.Context, sub model.PushSubscription, payload []byte) (result Result) {
	result = Result{SubscriptionID: sub.ID, Endpoint: sub.Endpoint}
	defer func() {
		if r := recover(); r != nil {
			result.Outcome = OutcomeFailed
			result.Error = fmt.Sprintf("panic during send: %v", r)
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := d.sender.Send(sendCtx, payload, wpSub, d.webpush)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// The push service no longer knows this endpoint; prune it.
		result.Outcome = OutcomeExpired
		result.Error = fmt.Sprintf("push service returned %d", resp.StatusCode)
		if err := d.store.DeleteSubscriptionByEndpoint(ctx, sub.Endpoint); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result.Outcome = OutcomeDelivered
	default:
		result.Outcome = OutcomeFailed
		result.Error = fmt.Sprintf("push service returned %d", resp.StatusCode)
	}
	return result
}
