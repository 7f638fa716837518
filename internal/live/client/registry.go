package client

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"campaign-delivery/internal/live"
)

// Registry keeps at most one Client per campaign and fans its snapshots out
// to every watcher.
type Registry struct {
	ctx  context.Context
	base Options

	mu   sync.Mutex
	subs map[uuid.UUID]*subscription
}

type subscription struct {
	client    *Client
	cancel    context.CancelFunc
	done      chan struct{}
	listeners map[int]func(live.Snapshot)
	next      int
}

// NewRegistry builds clients from base; CampaignID and OnSnapshot are set
// per campaign. Clients stop when ctx is done.
func NewRegistry(ctx context.Context, base Options) *Registry {
	return &Registry{ctx: ctx, base: base, subs: map[uuid.UUID]*subscription{}}
}

// Watch calls fn with every snapshot of campaignID until stop is called.
func (r *Registry) Watch(campaignID uuid.UUID, fn func(live.Snapshot)) (stop func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[campaignID]
	if !ok {
		sub = &subscription{listeners: map[int]func(live.Snapshot){}, done: make(chan struct{})}
		opts := r.base
		opts.CampaignID = campaignID
		opts.OnSnapshot = func(s live.Snapshot) { r.fanOut(campaignID, s) }
		sub.client = New(opts)

		ctx, cancel := context.WithCancel(r.ctx)
		sub.cancel = cancel
		r.subs[campaignID] = sub
		go func() {
			defer close(sub.done)
			_ = sub.client.Run(ctx)
		}()
	}

	id := sub.next
	sub.next++
	sub.listeners[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(sub.listeners, id)
		if len(sub.listeners) == 0 && r.subs[campaignID] == sub {
			delete(r.subs, campaignID)
			sub.cancel()
		}
	}
}

// Client returns the active client for campaignID, if any.
func (r *Registry) Client(campaignID uuid.UUID) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[campaignID]
	if !ok {
		return nil, false
	}
	return sub.client, true
}

func (r *Registry) fanOut(campaignID uuid.UUID, s live.Snapshot) {
	r.mu.Lock()
	sub, ok := r.subs[campaignID]
	var fns []func(live.Snapshot)
	if ok {
		for _, fn := range sub.listeners {
			fns = append(fns, fn)
		}
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}
