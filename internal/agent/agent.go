// Package agent keeps a device's push subscription in sync with the server.
// The platform push layer (service worker + push manager in a browser,
// or anything else that can mint endpoint/key registrations) is abstracted
// behind the PushManager interface so the synchronization and auto-heal
// logic is testable on its own.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Agent-side failure conditions, distinct from transport errors.
var (
	ErrUnsupportedPlatform    = errors.New("platform does not support push messaging")
	ErrPermissionDenied       = errors.New("notification permission denied")
	ErrIncompleteSubscription = errors.New("platform subscription is missing key material")
)

// PlatformSubscription is the live registration held by the platform push
// layer: the delivery endpoint plus the encryption keys bound to it.
type PlatformSubscription struct {
	Endpoint string
	P256DH   string
	Auth     string
}

// PushManager abstracts the platform push layer.
type PushManager interface {
	// Supported reports whether the platform can deliver push messages at all.
	Supported() bool
	// RequestPermission asks the user for notification permission. May block
	// on user input.
	RequestPermission(ctx context.Context) (bool, error)
	// Current returns the live subscription, or nil when none exists.
	Current(ctx context.Context) (*PlatformSubscription, error)
	// Subscribe creates a new subscription against the given VAPID public key.
	Subscribe(ctx context.Context, vapidPublicKey string) (*PlatformSubscription, error)
	// Unsubscribe cancels the live subscription, if any.
	Unsubscribe(ctx context.Context) error
}

// SubscriptionInfo is the server's view of one registered device.
type SubscriptionInfo struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	UserAgent string    `json:"userAgent"`
	CreatedAt time.Time `json:"createdAt"`
}

// Status is the server-side registration state for the agent's user.
type Status struct {
	Subscribed    bool               `json:"subscribed"`
	Subscriptions []SubscriptionInfo `json:"subscriptions"`
}

// Agent synchronizes the platform's push subscription with the server.
type Agent struct {
	baseURL string
	token   string
	client  *http.Client
	pm      PushManager
}

// New creates an agent talking to the push API at baseURL, authenticating
// with the given bearer token.
func New(baseURL, token string, pm PushManager) *Agent {
	return &Agent{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		pm: pm,
	}
}

// Subscribe obtains a platform subscription and registers it server-side.
// Nothing is sent to the server until the subscription carries complete key
// material, so a failed call never leaves a partially-formed record behind.
func (a *Agent) Subscribe(ctx context.Context) error {
	if !a.pm.Supported() {
		return ErrUnsupportedPlatform
	}

	granted, err := a.pm.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("permission request failed: %w", err)
	}
	if !granted {
		return ErrPermissionDenied
	}

	var keyResp struct {
		PublicKey string `json:"public_key"`
	}
	if err := a.doJSON(ctx, http.MethodGet, "/api/push/vapid-public-key", nil, &keyResp); err != nil {
		return fmt.Errorf("failed to fetch vapid public key: %w", err)
	}

	sub, err := a.pm.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current subscription: %w", err)
	}
	if sub == nil {
		sub, err = a.pm.Subscribe(ctx, keyResp.PublicKey)
		if err != nil {
			return fmt.Errorf("platform subscribe failed: %w", err)
		}
	}

	return a.register(ctx, sub)
}

// Unsubscribe cancels the platform subscription and removes the server
// record. A missing live subscription is a no-op success.
func (a *Agent) Unsubscribe(ctx context.Context) error {
	sub, err := a.pm.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current subscription: %w", err)
	}
	if sub == nil {
		return nil
	}

	if err := a.pm.Unsubscribe(ctx); err != nil {
		return fmt.Errorf("platform unsubscribe failed: %w", err)
	}

	body := map[string]string{"endpoint": sub.Endpoint}
	return a.doJSON(ctx, http.MethodPost, "/api/push/unsubscribe", body, nil)
}

// Status returns the server's registration state for the agent's user.
func (a *Agent) Status(ctx context.Context) (*Status, error) {
	var status Status
	if err := a.doJSON(ctx, http.MethodGet, "/api/push/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SendTest asks the server to deliver a test notification to the user's own
// devices.
func (a *Agent) SendTest(ctx context.Context) error {
	return a.doJSON(ctx, http.MethodPost, "/api/push/test", nil, nil)
}

// Heal repairs drift between the live platform subscription and the server's
// records. When the platform holds a subscription the server does not know
// about (resubscription after a reinstall, key rotation), it is re-registered
// through the same upsert path as Subscribe. When the platform holds no
// subscription, nothing is deleted: the server rows may belong to the user's
// other devices, and only a failed delivery attempt can prove a row dead.
// Returns true when a re-registration was performed.
func (a *Agent) Heal(ctx context.Context) (bool, error) {
	sub, err := a.pm.Current(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read current subscription: %w", err)
	}
	if sub == nil {
		return false, nil
	}

	status, err := a.Status(ctx)
	if err != nil {
		return false, err
	}
	for _, known := range status.Subscriptions {
		if known.Endpoint == sub.Endpoint {
			return false, nil
		}
	}

	if err := a.register(ctx, sub); err != nil {
		return false, err
	}
	return true, nil
}

// register upserts the subscription server-side, rejecting incomplete key
// material before any network call is made.
func (a *Agent) register(ctx context.Context, sub *PlatformSubscription) error {
	if sub.Endpoint == "" || sub.P256DH == "" || sub.Auth == "" {
		return ErrIncompleteSubscription
	}

	body := map[string]string{
		"endpoint": sub.Endpoint,
		"p256dh":   sub.P256DH,
		"auth":     sub.Auth,
	}
	return a.doJSON(ctx, http.MethodPost, "/api/push/subscribe", body, nil)
}

// doJSON issues an authenticated JSON request and decodes the response into
// out when it is non-nil.
func (a *Agent) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
