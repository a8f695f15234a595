package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePushManager is a scriptable platform push layer.
type fakePushManager struct {
	supported    bool
	permission   bool
	current      *PlatformSubscription
	created      *PlatformSubscription
	unsubscribed bool
}

func (f *fakePushManager) Supported() bool { return f.supported }

func (f *fakePushManager) RequestPermission(ctx context.Context) (bool, error) {
	return f.permission, nil
}

func (f *fakePushManager) Current(ctx context.Context) (*PlatformSubscription, error) {
	return f.current, nil
}

func (f *fakePushManager) Subscribe(ctx context.Context, vapidPublicKey string) (*PlatformSubscription, error) {
	f.current = f.created
	return f.created, nil
}

func (f *fakePushManager) Unsubscribe(ctx context.Context) error {
	f.unsubscribed = true
	f.current = nil
	return nil
}

// fakeServer records calls to the push API endpoints.
type fakeServer struct {
	mu         sync.Mutex
	calls      []string
	registered []map[string]string
	status     Status
}

func (f *fakeServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/push/vapid-public-key":
			json.NewEncoder(w).Encode(map[string]string{"public_key": "BTestServerKey"})
		case "/api/push/subscribe":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			f.registered = append(f.registered, body)
			f.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]string{"id": "s1"})
		case "/api/push/unsubscribe":
			json.NewEncoder(w).Encode(map[string]bool{"unsubscribed": true})
		case "/api/push/status":
			json.NewEncoder(w).Encode(f.status)
		case "/api/push/test":
			json.NewEncoder(w).Encode(map[string]int{"totalDevices": 1})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (f *fakeServer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestAgent(t *testing.T, fs *fakeServer, pm PushManager) *Agent {
	server := httptest.NewServer(fs.handler())
	t.Cleanup(server.Close)
	return New(server.URL, "test-token", pm)
}

func TestSubscribeUnsupportedPlatform(t *testing.T) {
	fs := &fakeServer{}
	a := newTestAgent(t, fs, &fakePushManager{supported: false})

	err := a.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
	assert.Zero(t, fs.callCount(), "no server call before the platform check passes")
}

func TestSubscribePermissionDenied(t *testing.T) {
	fs := &fakeServer{}
	a := newTestAgent(t, fs, &fakePushManager{supported: true, permission: false})

	err := a.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Zero(t, fs.callCount(), "permission denial must precede any server call")
}

func TestSubscribeRegistersPlatformSubscription(t *testing.T) {
	fs := &fakeServer{}
	pm := &fakePushManager{
		supported:  true,
		permission: true,
		created: &PlatformSubscription{
			Endpoint: "https://push.example.org/new",
			P256DH:   "k",
			Auth:     "a",
		},
	}
	a := newTestAgent(t, fs, pm)

	require.NoError(t, a.Subscribe(context.Background()))

	require.Len(t, fs.registered, 1)
	assert.Equal(t, "https://push.example.org/new", fs.registered[0]["endpoint"])
	assert.Equal(t, "k", fs.registered[0]["p256dh"])
	assert.Equal(t, "a", fs.registered[0]["auth"])
}

func TestSubscribeReusesExistingPlatformSubscription(t *testing.T) {
	fs := &fakeServer{}
	pm := &fakePushManager{
		supported:  true,
		permission: true,
		current: &PlatformSubscription{
			Endpoint: "https://push.example.org/existing",
			P256DH:   "k",
			Auth:     "a",
		},
	}
	a := newTestAgent(t, fs, pm)

	require.NoError(t, a.Subscribe(context.Background()))
	require.Len(t, fs.registered, 1)
	assert.Equal(t, "https://push.example.org/existing", fs.registered[0]["endpoint"])
}

func TestSubscribeRejectsIncompleteKeyMaterial(t *testing.T) {
	fs := &fakeServer{}
	pm := &fakePushManager{
		supported:  true,
		permission: true,
		current: &PlatformSubscription{
			Endpoint: "https://push.example.org/broken",
			// No keys.
		},
	}
	a := newTestAgent(t, fs, pm)

	err := a.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrIncompleteSubscription)
	assert.Empty(t, fs.registered, "an incomplete subscription must never reach the server")
}

func TestUnsubscribeWithoutLiveSubscriptionIsNoop(t *testing.T) {
	fs := &fakeServer{}
	pm := &fakePushManager{supported: true}
	a := newTestAgent(t, fs, pm)

	assert.NoError(t, a.Unsubscribe(context.Background()))
	assert.False(t, pm.unsubscribed)
	assert.Zero(t, fs.callCount())
}

func TestUnsubscribeCancelsAndInformsServer(t *testing.T) {
	fs := &fakeServer{}
	pm := &fakePushManager{
		supported: true,
		current:   &PlatformSubscription{Endpoint: "https://push.example.org/live", P256DH: "k", Auth: "a"},
	}
	a := newTestAgent(t, fs, pm)

	require.NoError(t, a.Unsubscribe(context.Background()))
	assert.True(t, pm.unsubscribed)
	assert.Contains(t, fs.calls, "POST /api/push/unsubscribe")
}

func TestHealNoLocalSubscriptionDoesNothing(t *testing.T) {
	fs := &fakeServer{
		status: Status{
			Subscribed: true,
			Subscriptions: []SubscriptionInfo{
				{ID: "s1", Endpoint: "https://push.example.org/other-device"},
			},
		},
	}
	a := newTestAgent(t, fs, &fakePushManager{supported: true})

	healed, err := a.Heal(context.Background())
	require.NoError(t, err)
	assert.False(t, healed)
	assert.Empty(t, fs.registered, "heal must never delete or rewrite other devices' records")
}

func TestHealKnownEndpointIsNoop(t *testing.T) {
	fs := &fakeServer{
		status: Status{
			Subscribed: true,
			Subscriptions: []SubscriptionInfo{
				{ID: "s1", Endpoint: "https://push.example.org/mine"},
			},
		},
	}
	pm := &fakePushManager{
		supported: true,
		current:   &PlatformSubscription{Endpoint: "https://push.example.org/mine", P256DH: "k", Auth: "a"},
	}
	a := newTestAgent(t, fs, pm)

	healed, err := a.Heal(context.Background())
	require.NoError(t, err)
	assert.False(t, healed)
	assert.Empty(t, fs.registered)
}

func TestHealReRegistersUnknownEndpoint(t *testing.T) {
	fs := &fakeServer{
		status: Status{
			Subscribed: true,
			Subscriptions: []SubscriptionInfo{
				{ID: "s1", Endpoint: "https://push.example.org/stale"},
			},
		},
	}
	pm := &fakePushManager{
		supported: true,
		current:   &PlatformSubscription{Endpoint: "https://push.example.org/rotated", P256DH: "k", Auth: "a"},
	}
	a := newTestAgent(t, fs, pm)

	healed, err := a.Heal(context.Background())
	require.NoError(t, err)
	assert.True(t, healed)
	require.Len(t, fs.registered, 1)
	assert.Equal(t, "https://push.example.org/rotated", fs.registered[0]["endpoint"])
}
