// Package memory is an in-process storage driver. Transactions are
// serialized behind one mutex and rolled back by restoring a snapshot.
//
// Every transaction copies the whole state first, so each status write
// costs time proportional to the total number of rows. It suits tests and
// local demos; use the postgres driver for real traffic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"campaign-delivery/internal/model"
	"campaign-delivery/internal/storage"
)

type mappingKey struct {
	messageID uuid.UUID
	provider  string
}

type state struct {
	tenants   map[uuid.UUID]model.Tenant
	contacts  map[uuid.UUID]model.Contact
	campaigns map[uuid.UUID]model.Campaign
	settings  map[uuid.UUID]map[model.Channel]model.ChannelSettings
	messages  map[uuid.UUID]model.Message
	mappings  map[mappingKey]model.ProviderMapping
	events    []model.StatusEvent
	audience  map[uuid.UUID][]uuid.UUID
}

func newState() *state {
	return &state{
		tenants:   map[uuid.UUID]model.Tenant{},
		contacts:  map[uuid.UUID]model.Contact{},
		campaigns: map[uuid.UUID]model.Campaign{},
		settings:  map[uuid.UUID]map[model.Channel]model.ChannelSettings{},
		messages:  map[uuid.UUID]model.Message{},
		mappings:  map[mappingKey]model.ProviderMapping{},
		audience:  map[uuid.UUID][]uuid.UUID{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.tenants {
		c.tenants[k] = v
	}
	for k, v := range s.contacts {
		c.contacts[k] = v
	}
	for k, v := range s.campaigns {
		c.campaigns[k] = v
	}
	for k, v := range s.settings {
		inner := map[model.Channel]model.ChannelSettings{}
		for ch, cs := range v {
			inner[ch] = cs
		}
		c.settings[k] = inner
	}
	for k, v := range s.messages {
		c.messages[k] = v
	}
	for k, v := range s.mappings {
		c.mappings[k] = v
	}
	c.events = append(c.events, s.events...)
	for k, v := range s.audience {
		c.audience[k] = append([]uuid.UUID(nil), v...)
	}
	return c
}

type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) PutTenant(t model.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.tenants[t.ID] = t
}

func (s *Store) PutContact(c model.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.contacts[c.ID] = c
}

func (s *Store) PutCampaign(c model.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.campaigns[c.ID] = c
}

func (s *Store) PutChannelSettings(cs model.ChannelSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.settings[cs.TenantID] == nil {
		s.st.settings[cs.TenantID] = map[model.Channel]model.ChannelSettings{}
	}
	s.st.settings[cs.TenantID][cs.Channel] = cs
}

func (s *Store) PutMessage(m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.messages[m.ID] = m
}

// Audience returns the recorded recipients of a campaign.
func (s *Store) Audience(campaignID uuid.UUID) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.st.audience[campaignID]...)
}

func (s *Store) GetMessage(_ context.Context, id uuid.UUID) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.st.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &m, nil
}

func (s *Store) GetContact(_ context.Context, id uuid.UUID) (*model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.contacts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetCampaign(_ context.Context, id uuid.UUID) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.campaigns[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetTenant(_ context.Context, id uuid.UUID) (*model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.tenants[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &t, nil
}

func (s *Store) GetChannelSettings(_ context.Context, tenantID uuid.UUID, channel model.Channel) (*model.ChannelSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.st.settings[tenantID][channel]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &cs, nil
}

func (s *Store) FindMappingByProviderID(_ context.Context, provider, providerMessageID string) (*model.ProviderMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pm := range s.st.mappings {
		if pm.Provider == provider && pm.ProviderMessageID == providerMessageID {
			found := pm
			return &found, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) FindResendOf(_ context.Context, originID uuid.UUID) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.findResendOf(originID)
}

func (st *state) findResendOf(originID uuid.UUID) (*model.Campaign, error) {
	for _, c := range st.campaigns {
		if c.ResendOfCampaignID != nil && *c.ResendOfCampaignID == originID {
			found := c
			return &found, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) CampaignCounts(_ context.Context, campaignID uuid.UUID) (model.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var counts model.StatusCounts
	for _, m := range s.st.messages {
		if m.CampaignID == campaignID {
			counts.Add(m.Status, 1)
		}
	}
	return counts, nil
}

func (s *Store) ListStatusEvents(_ context.Context, messageID uuid.UUID) ([]model.StatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.StatusEvent
	for _, ev := range s.st.events {
		if ev.MessageID == messageID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *Store) WithinTx(_ context.Context, fn func(storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(&tx{st: s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

type tx struct {
	st *state
}

func (t *tx) LockMessage(_ context.Context, id uuid.UUID) (*model.Message, error) {
	m, ok := t.st.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &m, nil
}

func (t *tx) SaveMessage(_ context.Context, m *model.Message) error {
	if _, ok := t.st.messages[m.ID]; !ok {
		return storage.ErrNotFound
	}
	t.st.messages[m.ID] = *m
	return nil
}

func (t *tx) AppendStatusEvent(_ context.Context, ev *model.StatusEvent) error {
	t.st.events = append(t.st.events, *ev)
	return nil
}

func (t *tx) UpsertProviderMapping(_ context.Context, pm *model.ProviderMapping) error {
	key := mappingKey{messageID: pm.MessageID, provider: pm.Provider}
	for k, existing := range t.st.mappings {
		if k != key && existing.Provider == pm.Provider && existing.ProviderMessageID == pm.ProviderMessageID {
			return storage.ErrConflict
		}
	}
	t.st.mappings[key] = *pm
	return nil
}

func (t *tx) RefreshMappingStatus(_ context.Context, messageID uuid.UUID, provider, status string, at time.Time) error {
	key := mappingKey{messageID: messageID, provider: provider}
	pm, ok := t.st.mappings[key]
	if !ok {
		return nil
	}
	pm.ProviderStatus = status
	pm.UpdatedAt = at
	t.st.mappings[key] = pm
	return nil
}

func (t *tx) ListRetryableMessages(_ context.Context, campaignID uuid.UUID, staleBefore time.Time) ([]*model.Message, error) {
	var out []*model.Message
	for _, m := range t.st.messages {
		if m.CampaignID != campaignID {
			continue
		}
		stale := m.Status == model.StatusProcessing && m.UpdatedAt.Before(staleBefore)
		if m.Status == model.StatusFailed || stale {
			msg := m
			out = append(out, &msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	return out, nil
}

func (t *tx) LockCampaign(_ context.Context, id uuid.UUID) (*model.Campaign, error) {
	c, ok := t.st.campaigns[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &c, nil
}

func (t *tx) FindResendOf(_ context.Context, originID uuid.UUID) (*model.Campaign, error) {
	return t.st.findResendOf(originID)
}

func (t *tx) ListNonReaders(_ context.Context, campaignID uuid.UUID) ([]uuid.UUID, error) {
	latest := map[uuid.UUID]model.Message{}
	for _, m := range t.st.messages {
		if m.CampaignID != campaignID {
			continue
		}
		prev, ok := latest[m.ContactID]
		if !ok || m.QueuedAt.After(prev.QueuedAt) {
			latest[m.ContactID] = m
		}
	}
	var ids []uuid.UUID
	for contactID, m := range latest {
		if m.Status != model.StatusRead {
			ids = append(ids, contactID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (t *tx) InsertCampaign(_ context.Context, c *model.Campaign) error {
	if c.ResendOfCampaignID != nil {
		if _, err := t.st.findResendOf(*c.ResendOfCampaignID); err == nil {
			return storage.ErrConflict
		}
	}
	t.st.campaigns[c.ID] = *c
	return nil
}

func (t *tx) InsertAudience(_ context.Context, campaignID uuid.UUID, contactIDs []uuid.UUID) error {
	t.st.audience[campaignID] = append(t.st.audience[campaignID], contactIDs...)
	return nil
}

var _ storage.Store = (*Store)(nil)
