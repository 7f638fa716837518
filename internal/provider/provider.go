// Package provider wraps carrier APIs behind a uniform send/verify contract.
package provider

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"campaign-delivery/internal/model"
)

var ErrSendFailed = errors.New("provider: send failed")

// Credentials is the decrypted content of a channel's stored credentials.
type Credentials struct {
	AccountSID string `json:"account_sid,omitempty"`
	AuthToken  string `json:"auth_token,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
}

// Empty reports whether no usable secret is present.
func (c Credentials) Empty() bool {
	return c.AuthToken == "" && c.APIKey == ""
}

type SendRequest struct {
	Channel            model.Channel
	To                 string
	From               string
	MessagingServiceID string
	Body               string
	StatusCallbackURL  string
}

type SendResult struct {
	ProviderMessageID string
	ProviderStatus    string
}

// Adapter is implemented once per carrier.
type Adapter interface {
	Name() string
	Send(ctx context.Context, creds Credentials, req SendRequest) (SendResult, error)
	// Verify checks a callback signature computed over the callback URL and
	// its form parameters.
	Verify(creds Credentials, signature, callbackURL string, params url.Values) bool
	SignatureHeader() string
	// PushesCallbacks reports whether the carrier reliably calls back with
	// delivery updates; when false the dispatcher schedules synthetic ones.
	PushesCallbacks() bool
}

type registryKey struct {
	channel model.Channel
	name    string
}

// Registry selects an adapter by (channel, provider name).
type Registry struct {
	mu       sync.RWMutex
	adapters map[registryKey]Adapter
	byName   map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: map[registryKey]Adapter{},
		byName:   map[string]Adapter{},
	}
}

// Register makes a serve the given channels.
func (r *Registry) Register(a Adapter, channels ...model.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := strings.ToLower(a.Name())
	for _, ch := range channels {
		r.adapters[registryKey{channel: ch, name: name}] = a
	}
	r.byName[name] = a
}

func (r *Registry) Lookup(channel model.Channel, name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[registryKey{channel: channel, name: strings.ToLower(name)}]
	return a, ok
}

// ByName finds the adapter for an inbound webhook route.
func (r *Registry) ByName(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[strings.ToLower(name)]
	return a, ok
}

// MapStatus folds a carrier status onto the internal lifecycle. Every
// pre-delivery state collapses onto sent.
func MapStatus(providerStatus string) (model.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "accepted", "queued", "sending", "sent", "scheduled":
		return model.StatusSent, true
	case "delivered":
		return model.StatusDelivered, true
	case "read":
		return model.StatusRead, true
	case "failed", "undelivered", "canceled":
		return model.StatusFailed, true
	}
	return "", false
}
