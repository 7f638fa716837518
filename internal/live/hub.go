package live

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"campaign-delivery/internal/metrics"
	"campaign-delivery/internal/notifier"
	"campaign-delivery/internal/redisx"
	"campaign-delivery/internal/storage"
)

// Topic carries status notifications between processes.
const Topic = "campaign-delivery:status"

const writeTimeout = 5 * time.Second

// Hub tracks open streams per campaign and wakes them when a status
// notification for that campaign arrives on the bus.
type Hub struct {
	store   storage.Store
	bus     redisx.Bus
	origins []string

	mu   sync.Mutex
	subs map[uuid.UUID]map[chan struct{}]struct{}
}

func NewHub(store storage.Store, bus redisx.Bus) *Hub {
	return &Hub{
		store: store,
		bus:   bus,
		subs:  map[uuid.UUID]map[chan struct{}]struct{}{},
	}
}

// WithOriginPatterns lists the browser origins, besides the request's own
// host, that may open a stream. Patterns follow path.Match.
func (h *Hub) WithOriginPatterns(patterns []string) *Hub {
	h.origins = patterns
	return h
}

// Publish announces n to every hub sharing the bus, including this one.
func (h *Hub) Publish(ctx context.Context, n notifier.StatusNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return h.bus.Publish(ctx, Topic, payload)
}

// Run consumes the bus until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	updates, err := h.bus.Subscribe(ctx, Topic)
	if err != nil {
		return err
	}
	for payload := range updates {
		var n notifier.StatusNotification
		if err := json.Unmarshal(payload, &n); err != nil {
			log.Printf("[Live] bad notification: %v", err)
			continue
		}
		h.wake(ctx, n.CampaignID)
	}
	return ctx.Err()
}

func (h *Hub) wake(ctx context.Context, campaignID uuid.UUID) {
	if h.idle() {
		return
	}
	targets := []uuid.UUID{campaignID}
	// a resend's progress changes its origin's uplift too
	if c, err := h.store.GetCampaign(ctx, campaignID); err == nil && c.IsResend() {
		targets = append(targets, *c.ResendOfCampaignID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range targets {
		for ch := range h.subs[id] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

func (h *Hub) idle() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs) == 0
}

// subscribe returns a coalescing wake-up channel for campaignID.
func (h *Hub) subscribe(campaignID uuid.UUID) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	if h.subs[campaignID] == nil {
		h.subs[campaignID] = map[chan struct{}]struct{}{}
	}
	h.subs[campaignID][ch] = struct{}{}
	h.mu.Unlock()
	metrics.LiveSubscribers.Inc()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs[campaignID], ch)
		if len(h.subs[campaignID]) == 0 {
			delete(h.subs, campaignID)
		}
		h.mu.Unlock()
		metrics.LiveSubscribers.Dec()
	}
}

// Subscribers reports how many streams watch campaignID.
func (h *Hub) Subscribers(campaignID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[campaignID])
}

func (h *Hub) Snapshot(ctx context.Context, tenantID, campaignID uuid.UUID) (Snapshot, error) {
	return BuildSnapshot(ctx, h.store, tenantID, campaignID)
}

// Stream upgrades the request and pushes a snapshot on connect and after
// every status change until the client goes away. The caller has already
// authenticated the tenant.
func (h *Hub) Stream(w http.ResponseWriter, r *http.Request, tenantID, campaignID uuid.UUID) {
	first, err := h.Snapshot(r.Context(), tenantID, campaignID)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "campaign not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("[Live] snapshot %s: %v", campaignID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		log.Printf("[Live] accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	wakeups, unsubscribe := h.subscribe(campaignID)
	defer unsubscribe()

	// We never read from the client; CloseRead handles control frames and
	// cancels ctx when the peer disconnects.
	ctx := conn.CloseRead(r.Context())

	if err := h.write(ctx, conn, first); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-wakeups:
			snap, err := h.Snapshot(ctx, tenantID, campaignID)
			if err != nil {
				log.Printf("[Live] snapshot %s: %v", campaignID, err)
				continue
			}
			if err := h.write(ctx, conn, snap); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, snap Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, snap)
}
